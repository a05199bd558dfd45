// Package broker wires every subsystem package into the single running
// process spec.md §9 calls for: "pick the implementation at startup from
// configuration ... wrap all of these in a single Broker value." Grounded
// on cmd/octoreflex/main.go's orchestration shape (config → logger →
// storage → transport → metrics → worker dispatch → signal-driven
// shutdown), with the kernel/BPF/escalation-specific steps replaced by
// the registry/scheduler/fuser/reputation/runcontrol/ledger/provenance
// pipeline this domain needs.
package broker

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/EverettRichards/edge-vehicle-server/contrib"
	"github.com/EverettRichards/edge-vehicle-server/internal/clientset"
	"github.com/EverettRichards/edge-vehicle-server/internal/config"
	"github.com/EverettRichards/edge-vehicle-server/internal/display"
	"github.com/EverettRichards/edge-vehicle-server/internal/fusion"
	"github.com/EverettRichards/edge-vehicle-server/internal/ledger"
	"github.com/EverettRichards/edge-vehicle-server/internal/observability"
	"github.com/EverettRichards/edge-vehicle-server/internal/operator"
	"github.com/EverettRichards/edge-vehicle-server/internal/provenance"
	"github.com/EverettRichards/edge-vehicle-server/internal/reputation"
	"github.com/EverettRichards/edge-vehicle-server/internal/runcontrol"
	"github.com/EverettRichards/edge-vehicle-server/internal/sceneconfig"
	"github.com/EverettRichards/edge-vehicle-server/internal/scheduler"
	"github.com/EverettRichards/edge-vehicle-server/internal/transport"
)

// Publisher is the subset of *transport.Adapter the broker depends on;
// narrowed to an interface so tests can substitute a recorder.
type Publisher interface {
	Publish(topic string, value map[string]any) error
	PublishRaw(topic string, payload []byte) error
}

// Broker ties the client registry, scheduler, fuser, reputation updater,
// run controller (parking only), ledger, provenance chain, metrics, and
// transport together behind transport.Dispatcher and operator.Control.
type Broker struct {
	cfg   config.Settings
	scene *sceneconfig.Scene

	registry  *clientset.Registry
	schedule  *scheduler.Scheduler
	fuser     contrib.Fuser
	repParams reputation.Params
	run       *runcontrol.Controller // nil for the categorical variant

	ledger     *ledger.DB // nil if storage disabled
	parentHash string

	metrics   *observability.Metrics
	publisher Publisher
	log       *zap.Logger

	startedAt time.Time
	done      chan struct{} // closed once the parking bounded run finishes
}

// New constructs a Broker. publisher may be nil in tests that only
// exercise the fusion/reputation pipeline without a live bus.
func New(cfg config.Settings, scene *sceneconfig.Scene, fuser contrib.Fuser, publisher Publisher, metrics *observability.Metrics, ledgerDB *ledger.DB, log *zap.Logger) *Broker {
	b := &Broker{
		cfg:      cfg,
		scene:    scene,
		registry: clientset.NewRegistry(),
		schedule: scheduler.New(cfg.RefreshInterval()),
		fuser:    fuser,
		repParams: reputation.Params{
			Increment:     cfg.ReputationIncrement,
			Decrement:     cfg.ReputationDecrement,
			MinReputation: cfg.MinReputation,
		},
		ledger:    ledgerDB,
		metrics:   metrics,
		publisher: publisher,
		log:       log,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	if cfg.Variant == config.VariantParking {
		b.run = runcontrol.New(cfg.MaxDecisionHistory)
	}
	if ledgerDB != nil {
		if hash, err := ledgerDB.LastHash(); err == nil {
			b.parentHash = hash
		}
	}
	return b
}

// Done closes once the parking bounded experiment has published its
// "finished" message. The categorical variant never closes it; cmd/broker
// selects on it alongside the shutdown signals for both variants.
func (b *Broker) Done() <-chan struct{} { return b.done }

// HandleNewClient implements transport.Dispatcher.
func (b *Broker) HandleNewClient(source string) {
	if err := b.registry.Register(source); err != nil {
		display.ClientAddFailed(source)
		b.log.Warn("broker: register failed", zap.String("client", source), zap.Error(err))
		return
	}
	if b.cfg.ShowVerboseOutput {
		display.ClientAdded(source)
	}
	b.metrics.RegisteredClients.Set(float64(b.registry.Count()))
	b.publishSceneConfig()
}

// HandleEndClient implements transport.Dispatcher.
func (b *Broker) HandleEndClient(source string) {
	if err := b.registry.Unregister(source); err != nil {
		display.ClientRemoveFailed(source)
		b.log.Warn("broker: unregister failed", zap.String("client", source), zap.Error(err))
		return
	}
	if b.cfg.ShowVerboseOutput {
		display.ClientRemoved(source)
	}
	b.metrics.RegisteredClients.Set(float64(b.registry.Count()))
}

// HandleConfigRequest implements transport.Dispatcher.
func (b *Broker) HandleConfigRequest() {
	b.publishSceneConfig()
}

// HandleCategoricalObservation implements transport.Dispatcher.
func (b *Broker) HandleCategoricalObservation(source string, obs clientset.CategoricalObservation, receivedAt time.Time) {
	if b.registry.EnsureRegistered(source) {
		b.log.Info("broker: auto-registered client from data", zap.String("client", source))
		b.metrics.RegisteredClients.Set(float64(b.registry.Count()))
	}
	if err := b.registry.RecordObservation(source, clientset.Observation{Categorical: obs}, receivedAt); err != nil {
		b.log.Warn("broker: record observation failed", zap.String("client", source), zap.Error(err))
		return
	}
	b.maybeRunVerdictCycle(receivedAt)
}

// HandleParkingObservation implements transport.Dispatcher.
func (b *Broker) HandleParkingObservation(source string, obs clientset.ParkingObservation, receivedAt time.Time) {
	if b.registry.EnsureRegistered(source) {
		b.log.Info("broker: auto-registered client from data", zap.String("client", source))
		b.metrics.RegisteredClients.Set(float64(b.registry.Count()))
	}
	if err := b.registry.RecordObservation(source, clientset.Observation{Parking: obs}, receivedAt); err != nil {
		b.log.Warn("broker: record observation failed", zap.String("client", source), zap.Error(err))
		return
	}
	b.maybeRunVerdictCycle(receivedAt)
}

func (b *Broker) publishSceneConfig() {
	if b.publisher == nil {
		return
	}
	if err := b.publisher.PublishRaw(transport.TopicConfig, b.scene.Raw); err != nil {
		display.ConfigRequestFailed(err.Error())
	}
}

// maybeRunVerdictCycle runs the scheduler gate, then the full fusion →
// publish → reputation → ledger/provenance → run-control pipeline.
func (b *Broker) maybeRunVerdictCycle(now time.Time) {
	if !b.schedule.MaybeVerdict(now) {
		b.metrics.VerdictCyclesTotal.WithLabelValues("rate_limited").Inc()
		return
	}

	start := time.Now()
	staleness := b.cfg.StalenessWindow()
	clients := b.registry.Snapshot(now, staleness)
	snapshot := contrib.FusionSnapshot{Now: now, Clients: clients, Scene: b.scene.Doc}

	if stale := b.registry.StaleCount(now, staleness); stale > 0 {
		b.metrics.StaleObservationsDroppedTotal.Add(float64(stale))
	}

	verdict, err := b.fuser.Fuse(snapshot)
	if err != nil {
		b.log.Error("broker: fusion failed", zap.Error(err))
		return
	}

	if b.publisher != nil {
		msg := make(map[string]any, len(verdict))
		for slot, label := range verdict {
			msg[slot] = label
		}
		_ = b.publisher.Publish(transport.TopicVerdict, map[string]any{"message": msg})
	}

	disagreements := b.applyReputation(snapshot, verdict)

	b.metrics.VerdictCyclesTotal.WithLabelValues("published").Inc()
	b.metrics.VerdictCycleLatency.Observe(time.Since(start).Seconds())
	b.metrics.VerdictSlotTallySize.Observe(float64(len(verdict)))
	b.metrics.DisagreementsTotal.Add(float64(disagreements))

	b.recordProvenance(verdict, clients, disagreements)

	if b.cfg.Variant == config.VariantParking {
		b.advanceRunControl(snapshot, verdict)
	}
}

func (b *Broker) applyReputation(snapshot contrib.FusionSnapshot, verdict contrib.Verdict) int {
	if !reputation.ShouldUpdate(len(snapshot.Clients)) {
		if len(snapshot.Clients) == 1 && b.cfg.ShowVerboseOutput {
			display.SingleClientSkip()
		}
		return 0
	}

	totalDisagreements := 0
	for _, view := range snapshot.Clients {
		if view.Observation == nil {
			continue
		}
		switch b.cfg.Variant {
		case config.VariantParking:
			res := reputation.ApplyParking(view, verdict, snapshot.Scene, b.repParams)
			_ = b.registry.SetReputation(view.Name, res.NewReputation)
			_ = b.registry.PushAccuracy(view.Name, res.HitRatio)
		default:
			res := reputation.ApplyCategorical(view, verdict, b.repParams)
			_ = b.registry.SetReputation(view.Name, res.NewReputation)
			totalDisagreements += res.Disagreements
		}
	}
	return totalDisagreements
}

func (b *Broker) recordProvenance(verdict contrib.Verdict, clients []clientset.ClientView, disagreements int) {
	sceneDigest := provenance.SceneDigest(b.scene.Raw)
	hash := provenance.Hash(verdict, clients, sceneDigest, b.parentHash)

	b.observeReputationSpread(clients)

	if b.ledger == nil {
		b.parentHash = hash
		return
	}

	entry := ledger.Entry{
		Timestamp:      time.Now(),
		Variant:        string(b.cfg.Variant),
		Verdict:        verdict,
		ProvenanceHash: hash,
		ParentHash:     b.parentHash,
		ClientCount:    len(clients),
		Disagreements:  disagreements,
	}
	ledgerStart := time.Now()
	if err := b.ledger.Append(entry); err != nil {
		b.log.Error("broker: ledger append failed", zap.Error(err))
	} else {
		b.metrics.LedgerWriteLatency.Observe(time.Since(ledgerStart).Seconds())
		if n, err := b.ledger.Count(); err == nil {
			b.metrics.LedgerEntries.Set(float64(n))
		}
	}
	b.parentHash = hash
}

func (b *Broker) observeReputationSpread(clients []clientset.ClientView) {
	if len(clients) == 0 {
		return
	}
	min, max, sum := clients[0].Reputation, clients[0].Reputation, 0.0
	for _, c := range clients {
		if c.Reputation < min {
			min = c.Reputation
		}
		if c.Reputation > max {
			max = c.Reputation
		}
		sum += c.Reputation
	}
	b.metrics.ReputationMin.Set(min)
	b.metrics.ReputationMax.Set(max)
	b.metrics.ReputationMean.Set(sum / float64(len(clients)))
}

// advanceRunControl scores verdict against ground truth, feeds the run
// controller, and on StateFinishing publishes the "finished" message and
// signals Done. Accuracy formula grounded on parking_broker.py's
// log_decision: the fraction of occupied-anchor slots whose verdict label
// matches the ground-truth occupant at that index.
func (b *Broker) advanceRunControl(snapshot contrib.FusionSnapshot, verdict contrib.Verdict) {
	truth := b.scene.Doc.TrueParkingOccupants
	accuracy := 0.0
	if len(truth) > 0 {
		matches := 0
		for i, want := range truth {
			if verdict[strconv.Itoa(i)] == want {
				matches++
			}
		}
		accuracy = float64(matches) / float64(len(truth))
	}

	outcome := fusion.ComputeParkingOutcome(snapshot)
	b.metrics.ParkingDisplacementsTotal.Add(float64(outcome.Displacements))

	state := b.run.RecordVerdict(accuracy)

	if b.cfg.ShowVerboseOutput {
		report := display.DecisionSummary(len(b.run.AccuracyHistory()), b.run.MeanAccuracy()*100)
		b.log.Info(report)
		progress := display.ProgressReport(b.run.VerdictCount(), b.cfg.MaxDecisionHistory, time.Since(b.startedAt))
		b.log.Info(progress)
	}

	if state == runcontrol.StateFinishing {
		if b.publisher != nil {
			_ = b.publisher.Publish(transport.TopicFinished, map[string]any{"message": "I'm done!"})
		}
		b.run.MarkDone()
		close(b.done)
	}
}

// ListClients implements operator.Control.
func (b *Broker) ListClients() []operator.ClientInfo {
	views := b.registry.Snapshot(time.Now(), b.cfg.StalenessWindow())
	out := make([]operator.ClientInfo, 0, len(views))
	for _, v := range views {
		out = append(out, operator.ClientInfo{
			Name:           v.Name,
			Reputation:     v.Reputation,
			HasObservation: v.Observation != nil,
		})
	}
	return out
}

// ClientStatus implements operator.Control.
func (b *Broker) ClientStatus(name string) (operator.ClientInfo, bool) {
	view, err := b.registry.Lookup(name)
	if err != nil {
		return operator.ClientInfo{}, false
	}
	return operator.ClientInfo{
		Name:           view.Name,
		Reputation:     view.Reputation,
		HasObservation: view.Observation != nil,
	}, true
}

// ResetReputation implements operator.Control.
func (b *Broker) ResetReputation(name string) (float64, error) {
	view, err := b.registry.Lookup(name)
	if err != nil {
		return 0, err
	}
	if err := b.registry.SetReputation(name, 0.5); err != nil {
		return 0, err
	}
	return view.Reputation, nil
}

// RepublishConfig implements operator.Control.
func (b *Broker) RepublishConfig() error {
	if b.publisher == nil {
		return nil
	}
	return b.publisher.PublishRaw(transport.TopicConfig, b.scene.Raw)
}
