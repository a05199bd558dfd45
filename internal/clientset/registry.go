// Package clientset implements the Client Registry and Observation Store:
// an in-memory, name-keyed directory of live clients, each owning a
// reputation score and a latest observation, freshness-checked at read
// time. Mutex-protected map keyed by identity with freshness computed at
// read against a window, in the shape of octoreflex's gossip quorum
// observation map; register/unregister/duplicate/unknown semantics follow
// the original broker's initializeClient/removeClient.
package clientset

import (
	"sort"
	"sync"
	"time"
)

const defaultHistoryCapacity = 64

// Client is a single registered sensing node: its reputation, latest
// observation, and (parking variant) bounded accuracy history.
type Client struct {
	name       string
	reputation float64
	obs        *Observation
	history    *accuracyRing
}

// Name returns the client's registered name.
func (c *Client) Name() string { return c.name }

// Reputation returns the client's current reputation.
func (c *Client) Reputation() float64 { return c.reputation }

// ClientView is a read-only snapshot of one client as of the moment
// Registry.Snapshot was called: Observation is nil if the client has
// never reported or its latest report has gone stale.
type ClientView struct {
	Name        string
	Reputation  float64
	Observation *Observation
	History     []float64
}

// Registry is the mutex-protected directory of live clients. All mutation
// happens under a single lock; the single-threaded bus callback discipline
// (spec §5) makes this lock uncontended in the common case, but it is
// still required once any worker goroutine is introduced.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Register inserts a new client with reputation 0.5 and no observation.
// Returns ErrDuplicateClient if name is already registered.
func (r *Registry) Register(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[name]; exists {
		return ErrDuplicateClient
	}
	r.clients[name] = &Client{
		name:       name,
		reputation: 0.5,
		history:    newAccuracyRing(defaultHistoryCapacity),
	}
	return nil
}

// EnsureRegistered registers name if absent and reports whether it did so.
// Used at the transport dispatch layer for observation ingest from a
// client that never sent new_client (spec §8 scenario 5: unknown
// data_V2B source auto-registers).
func (r *Registry) EnsureRegistered(name string) (created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[name]; exists {
		return false
	}
	r.clients[name] = &Client{
		name:       name,
		reputation: 0.5,
		history:    newAccuracyRing(defaultHistoryCapacity),
	}
	return true
}

// Unregister removes name. Returns ErrUnknownClient if absent.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[name]; !exists {
		return ErrUnknownClient
	}
	delete(r.clients, name)
	return nil
}

// Lookup returns a view of a single client, or ErrUnknownClient if absent.
// Unlike Snapshot, it applies no freshness check: Observation is the
// latest stored one, however old.
func (r *Registry) Lookup(name string) (ClientView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, exists := r.clients[name]
	if !exists {
		return ClientView{}, ErrUnknownClient
	}
	return viewOf(c), nil
}

// Count returns the number of currently registered clients.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// RecordObservation stamps obs with now and stores it on name, overwriting
// any prior observation wholesale. Returns ErrUnknownClient if name is not
// registered.
func (r *Registry) RecordObservation(name string, obs Observation, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, exists := r.clients[name]
	if !exists {
		return ErrUnknownClient
	}
	obs.RecordedAt = now
	c.obs = &obs
	return nil
}

// SetReputation stores reputation for name as given, without clamping.
// Returns ErrUnknownClient if absent.
func (r *Registry) SetReputation(name string, reputation float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, exists := r.clients[name]
	if !exists {
		return ErrUnknownClient
	}
	c.reputation = reputation
	return nil
}

// PushAccuracy appends an agreement ratio to name's bounded accuracy
// history. Returns ErrUnknownClient if absent.
func (r *Registry) PushAccuracy(name string, ratio float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, exists := r.clients[name]
	if !exists {
		return ErrUnknownClient
	}
	c.history.push(ratio)
	return nil
}

// Snapshot returns a view of every registered client, ordered
// deterministically by name, with Observation set only if it is within
// staleness of now (spec §4.3: current(client, now)). This is the single
// point where the freshness gate (P2) is enforced for fusion.
func (r *Registry) Snapshot(now time.Time, staleness time.Duration) []ClientView {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)

	views := make([]ClientView, 0, len(names))
	for _, name := range names {
		c := r.clients[name]
		v := viewOf(c)
		if !c.obs.fresh(now, staleness) {
			v.Observation = nil
		}
		views = append(views, v)
	}
	return views
}

// StaleCount reports how many registered clients have a stored
// observation that has aged out of the freshness window as of now. Used
// only for the StaleObservationsDroppedTotal metric; never affects
// fusion, which already excludes these via Snapshot.
func (r *Registry) StaleCount(now time.Time, staleness time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, c := range r.clients {
		if c.obs != nil && !c.obs.fresh(now, staleness) {
			count++
		}
	}
	return count
}

func viewOf(c *Client) ClientView {
	return ClientView{
		Name:        c.name,
		Reputation:  c.reputation,
		Observation: c.obs,
		History:     c.history.values(),
	}
}
