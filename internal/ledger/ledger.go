// Package ledger is the broker's write-only verdict audit trail: a BoltDB
// bucket of published verdicts keyed by timestamp, each entry carrying its
// provenance hash (which covers the client reputations and observations
// that produced it), its parent hash, the client count and the
// disagreement count. The client snapshot itself is not stored.
//
// Grounded on internal/storage/bolt.go's bucket layout and
// RFC3339Nano-keyed append pattern, trimmed to a /verdicts bucket plus a
// /meta bucket holding the schema version — there is no baseline-record
// concept here.
//
// The ledger is write-only in the sense that matters for correctness: the
// broker never reads it back to seed verdict or reputation state at
// startup (P7); it reads only the last provenance hash, to chain the next
// one. ReadRecent is not called by the broker or by the operator socket.
package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	bucketVerdicts = "verdicts"
	bucketMeta     = "meta"

	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"
)

// Entry is a single audit ledger record.
type Entry struct {
	Timestamp      time.Time         `json:"timestamp"`
	Variant        string            `json:"variant"`
	Verdict        map[string]string `json:"verdict"`
	ProvenanceHash string            `json:"provenance_hash"`
	ParentHash     string            `json:"parent_hash"`
	ClientCount    int               `json:"client_count"`
	Disagreements  int               `json:"disagreements"`
}

// DB wraps a BoltDB instance holding the verdict ledger.
type DB struct {
	db *bolt.DB
}

// Open opens (or creates) the ledger database at path.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb}
	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketVerdicts, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			return meta.Put([]byte("schema_version"), []byte(SchemaVersion))
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("ledger initialisation failed: %w", err)
	}

	return d, nil
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

// ledgerKey builds a sortable key: RFC3339Nano timestamp. Lexicographic
// sort equals chronological sort.
func ledgerKey(t time.Time) []byte {
	return []byte(t.UTC().Format(time.RFC3339Nano))
}

// Append writes one verdict entry. Never called with entry.Timestamp
// zero-valued in production; the broker stamps it at publish time.
func (d *DB) Append(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("ledger: marshal entry: %w", err)
	}
	key := ledgerKey(entry.Timestamp)
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketVerdicts))
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("ledger: put: %w", err)
		}
		return nil
	})
}

// Count returns the number of ledger entries currently stored.
func (d *DB) Count() (int, error) {
	var n int
	err := d.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(bucketVerdicts)).Stats().KeyN
		return nil
	})
	return n, err
}

// ReadRecent returns the most recent n entries, newest first. For operator
// inspection only — the broker itself never calls this.
func (d *DB) ReadRecent(n int) ([]Entry, error) {
	var entries []Entry
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketVerdicts)).Cursor()
		count := 0
		for k, v := c.Last(); k != nil && count < n; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("ledger: unmarshal %s: %w", k, err)
			}
			entries = append(entries, e)
			count++
		}
		return nil
	})
	return entries, err
}

// LastHash returns the ProvenanceHash of the most recently appended entry,
// or "" if the ledger is empty. Used to chain the next verdict's
// provenance hash to its predecessor.
func (d *DB) LastHash() (string, error) {
	var hash string
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketVerdicts)).Cursor()
		k, v := c.Last()
		if k == nil {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return fmt.Errorf("ledger: unmarshal %s: %w", k, err)
		}
		hash = e.ProvenanceHash
		return nil
	})
	return hash, err
}
