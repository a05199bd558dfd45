package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/EverettRichards/edge-vehicle-server/contrib"
	"github.com/EverettRichards/edge-vehicle-server/internal/clientset"
	"github.com/EverettRichards/edge-vehicle-server/internal/config"
	"github.com/EverettRichards/edge-vehicle-server/internal/ledger"
	"github.com/EverettRichards/edge-vehicle-server/internal/observability"
	"github.com/EverettRichards/edge-vehicle-server/internal/sceneconfig"
)

// recordingPublisher captures every published message for assertions,
// in place of a live bus connection.
type recordingPublisher struct {
	published []published
}

type published struct {
	topic string
	value map[string]any
	raw   []byte
}

func (p *recordingPublisher) Publish(topic string, value map[string]any) error {
	p.published = append(p.published, published{topic: topic, value: value})
	return nil
}

func (p *recordingPublisher) PublishRaw(topic string, payload []byte) error {
	p.published = append(p.published, published{topic: topic, raw: payload})
	return nil
}

// fixedFuser always returns the same verdict, so tests can exercise the
// pipeline without depending on internal/fusion's tally details.
type fixedFuser struct {
	verdict contrib.Verdict
}

func (f *fixedFuser) Name() string { return "fixed" }
func (f *fixedFuser) Fuse(contrib.FusionSnapshot) (contrib.Verdict, error) {
	return f.verdict, nil
}

func categoricalScene(t *testing.T) *sceneconfig.Scene {
	t.Helper()
	return &sceneconfig.Scene{
		Doc: sceneconfig.Document{ObjectLocations: map[string]sceneconfig.Position{"A": {}}},
		Raw: []byte(`{"object_locations":{"A":{"x":0,"y":0}}}`),
	}
}

func testSettings() config.Settings {
	cfg := config.Defaults()
	cfg.VerdictMinRefreshTime = 0.001
	cfg.OldestAllowableData = 10
	cfg.ShowVerboseOutput = false
	return cfg
}

func TestHandleNewClientRegistersAndRepublishesConfig(t *testing.T) {
	cfg := testSettings()
	scene := categoricalScene(t)
	pub := &recordingPublisher{}
	b := New(cfg, scene, &fixedFuser{verdict: contrib.Verdict{"A": "X"}}, pub, observability.NewMetrics(), nil, zap.NewNop())

	b.HandleNewClient("cam-1")

	info, ok := b.ClientStatus("cam-1")
	require.True(t, ok)
	require.Equal(t, 0.5, info.Reputation)
	require.Len(t, pub.published, 1)
	require.Equal(t, "config", pub.published[0].topic)
}

func TestHandleNewClientDuplicateDoesNotRepublish(t *testing.T) {
	cfg := testSettings()
	scene := categoricalScene(t)
	pub := &recordingPublisher{}
	b := New(cfg, scene, &fixedFuser{verdict: contrib.Verdict{"A": "X"}}, pub, observability.NewMetrics(), nil, zap.NewNop())

	b.HandleNewClient("cam-1")
	b.HandleNewClient("cam-1")

	require.Len(t, pub.published, 1)
}

func TestObservationTriggersVerdictPublish(t *testing.T) {
	cfg := testSettings()
	scene := categoricalScene(t)
	pub := &recordingPublisher{}
	b := New(cfg, scene, &fixedFuser{verdict: contrib.Verdict{"A": "X"}}, pub, observability.NewMetrics(), nil, zap.NewNop())

	b.HandleNewClient("cam-1")
	b.HandleCategoricalObservation("cam-1", clientset.CategoricalObservation{"A": {Label: "X", Confidence: 0.9, Distance: 5}}, time.Now())

	var verdictPublishes int
	for _, p := range pub.published {
		if p.topic == "verdict" {
			verdictPublishes++
			require.Equal(t, map[string]any{"A": "X"}, p.value["message"])
		}
	}
	require.Equal(t, 1, verdictPublishes)
}

func TestUnknownClientDataAutoRegisters(t *testing.T) {
	cfg := testSettings()
	scene := categoricalScene(t)
	pub := &recordingPublisher{}
	b := New(cfg, scene, &fixedFuser{verdict: contrib.Verdict{"A": "X"}}, pub, observability.NewMetrics(), nil, zap.NewNop())

	b.HandleCategoricalObservation("ghost-cam", clientset.CategoricalObservation{"A": {Label: "X", Confidence: 0.9, Distance: 5}}, time.Now())

	_, ok := b.ClientStatus("ghost-cam")
	require.True(t, ok)
}

func TestResetReputationReturnsPrevious(t *testing.T) {
	cfg := testSettings()
	scene := categoricalScene(t)
	b := New(cfg, scene, &fixedFuser{verdict: contrib.Verdict{"A": "X"}}, nil, observability.NewMetrics(), nil, zap.NewNop())

	b.HandleNewClient("cam-1")
	require.NoError(t, b.registry.SetReputation("cam-1", 0.81))

	prev, err := b.ResetReputation("cam-1")
	require.NoError(t, err)
	require.InDelta(t, 0.81, prev, 1e-9)

	info, _ := b.ClientStatus("cam-1")
	require.Equal(t, 0.5, info.Reputation)
}

// TestProvenanceDeterministicAcrossIdenticalCycles is the P6 integration
// check: two verdict cycles over identical registry/scene state must
// chain to the same hash given the same parent, proving the provenance
// computation carries no hidden non-determinism through the broker
// pipeline (timestamps, map iteration order, etc.).
func TestProvenanceDeterministicAcrossIdenticalCycles(t *testing.T) {
	cfg := testSettings()
	scene := categoricalScene(t)
	fuser := &fixedFuser{verdict: contrib.Verdict{"A": "X"}}

	run := func() string {
		b := New(cfg, scene, fuser, nil, observability.NewMetrics(), nil, zap.NewNop())
		b.HandleNewClient("cam-1")
		now := time.Now()
		b.HandleCategoricalObservation("cam-1", clientset.CategoricalObservation{"A": {Label: "X", Confidence: 0.9, Distance: 5}}, now)
		return b.parentHash
	}

	require.Equal(t, run(), run())
}

// TestLedgerStartEmptyMatchesLedgerAbsent is the P7 integration check:
// whether the broker starts with storage disabled or with a brand-new
// (empty) ledger file, the first verdict's provenance hash is identical
// — the ledger is never consulted to seed state (P7).
func TestLedgerStartEmptyMatchesLedgerAbsent(t *testing.T) {
	cfg := testSettings()
	scene := categoricalScene(t)
	fuser := &fixedFuser{verdict: contrib.Verdict{"A": "X"}}
	now := time.Now()

	bNoLedger := New(cfg, scene, fuser, nil, observability.NewMetrics(), nil, zap.NewNop())
	bNoLedger.HandleNewClient("cam-1")
	bNoLedger.HandleCategoricalObservation("cam-1", clientset.CategoricalObservation{"A": {Label: "X", Confidence: 0.9, Distance: 5}}, now)

	db, err := ledger.Open(t.TempDir() + "/ledger.db")
	require.NoError(t, err)
	defer db.Close()

	cfg.Storage.Enabled = true
	bWithLedger := New(cfg, scene, fuser, nil, observability.NewMetrics(), db, zap.NewNop())
	bWithLedger.HandleNewClient("cam-1")
	bWithLedger.HandleCategoricalObservation("cam-1", clientset.CategoricalObservation{"A": {Label: "X", Confidence: 0.9, Distance: 5}}, now)

	require.Equal(t, bNoLedger.parentHash, bWithLedger.parentHash)

	count, err := db.Count()
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestParkingBoundedRunPublishesFinishedAndClosesDone(t *testing.T) {
	cfg := testSettings()
	cfg.Variant = config.VariantParking
	cfg.MaxDecisionHistory = 1 // threshold = 1 + 10 = 11 verdicts

	scene := &sceneconfig.Scene{
		Doc: sceneconfig.Document{
			OccupiedParkingSpotLocations: []sceneconfig.Position{{X: 0, Y: 0}},
			TrueParkingOccupants:         []string{"PLATE1"},
			MaxDecisionHistory:           1,
		},
		Raw: []byte(`{}`),
	}
	pub := &recordingPublisher{}
	fuser := &fixedFuser{verdict: contrib.Verdict{"0": "PLATE1"}}
	b := New(cfg, scene, fuser, pub, observability.NewMetrics(), nil, zap.NewNop())

	b.HandleNewClient("cam-1")
	obs := clientset.ParkingObservation{{Text: "PLATE1", X: 0, Y: 0, Distance: 1}}

	for i := 0; i < 12; i++ {
		b.HandleParkingObservation("cam-1", obs, time.Now().Add(time.Duration(i)*time.Millisecond))
		time.Sleep(time.Millisecond)
	}

	select {
	case <-b.Done():
	default:
		t.Fatal("expected Done() to be closed after crossing the bounded-run threshold")
	}

	var sawFinished bool
	for _, p := range pub.published {
		if p.topic == "finished" {
			sawFinished = true
			require.Equal(t, "I'm done!", p.value["message"])
		}
	}
	require.True(t, sawFinished)
}
