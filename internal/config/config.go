// Package config provides configuration loading, validation, and defaults
// for the edge-vehicle-server broker.
//
// Two documents are loaded, independently, at startup:
//
//   - Broker settings (broker.yaml, gopkg.in/yaml.v3): operational knobs —
//     refresh interval, staleness window, reputation deltas, ambient
//     concerns (operator socket, metrics, ledger, logging).
//   - Scene configuration (client_config.json / parking_config.json,
//     encoding/json): the static scene the broker fuses observations
//     against. Loaded once, held immutable, and republished verbatim to
//     clients on join / request_config (see internal/sceneconfig).
//
// Validation: all required fields must be present and in range. Invalid
// settings on startup are fatal — the broker refuses to start, matching
// the teacher's config.Validate convention.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Variant selects which fusion algorithm and run-control behavior the
// broker runs: the categorical slot vote, or the parking spatial
// assignment. Selected from configuration, never at compile time
// (spec.md §9: "pick the implementation at startup from configuration").
type Variant string

const (
	VariantCategorical Variant = "categorical"
	VariantParking     Variant = "parking"
)

// Settings is the root broker settings document.
type Settings struct {
	// SchemaVersion must be "1".
	SchemaVersion string `yaml:"schema_version"`

	// Variant selects the fusion algorithm: "categorical" or "parking".
	Variant Variant `yaml:"variant"`

	// BrokerIP and PortNum address the MQTT broker this process connects to.
	BrokerIP string `yaml:"broker_IP"`
	PortNum  int    `yaml:"port_Num"`

	// VerdictMinRefreshTime is the minimum spacing, in seconds, between two
	// successive published verdicts. Default: 0.5.
	VerdictMinRefreshTime float64 `yaml:"verdict_min_refresh_time"`

	// OldestAllowableData is the freshness window, in seconds: an
	// observation older than this does not participate in a verdict.
	// Default: 2.5.
	OldestAllowableData float64 `yaml:"oldest_allowable_data"`

	// ShowVerboseOutput gates colorized per-cycle console output.
	ShowVerboseOutput bool `yaml:"show_verbose_output"`

	// ReputationIncrement/ReputationDecrement/MinReputation govern the
	// reputation updater (internal/reputation). Defaults: 0.005, 0.010, 0.35.
	ReputationIncrement float64 `yaml:"reputation_increment"`
	ReputationDecrement float64 `yaml:"reputation_decrement"`
	MinReputation       float64 `yaml:"min_reputation"`

	// MaxDecisionHistory bounds the parking variant's accuracy ring and
	// the run controller's bounded-experiment length
	// (max_decision_history + 10 verdicts). Unused by the categorical
	// variant.
	MaxDecisionHistory int `yaml:"max_decision_history"`

	// SceneConfigPath points at the scene configuration document
	// (client_config.json or parking_config.json depending on Variant).
	SceneConfigPath string `yaml:"scene_config_path"`

	Operator      OperatorSettings      `yaml:"operator"`
	Observability ObservabilitySettings `yaml:"observability"`
	Storage       StorageSettings       `yaml:"storage"`
}

// OperatorSettings configures the operator override Unix socket.
type OperatorSettings struct {
	Enabled    bool   `yaml:"enabled"`
	SocketPath string `yaml:"socket_path"`
}

// ObservabilitySettings configures metrics and logging.
type ObservabilitySettings struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// StorageSettings configures the optional verdict audit ledger.
// The ledger is write-only from the broker's perspective — see
// internal/ledger and SPEC_FULL.md §4.12. It is never read at startup to
// restore registry/scheduler/reputation state.
type StorageSettings struct {
	Enabled       bool          `yaml:"enabled"`
	DBPath        string        `yaml:"db_path"`
	RetentionDays int           `yaml:"retention_days"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

// Defaults returns a Settings populated with all default values from
// spec.md §6.
func Defaults() Settings {
	return Settings{
		SchemaVersion:         "1",
		Variant:               VariantCategorical,
		BrokerIP:              "localhost",
		PortNum:               1883,
		VerdictMinRefreshTime: 0.5,
		OldestAllowableData:   2.5,
		ShowVerboseOutput:     true,
		ReputationIncrement:   0.005,
		ReputationDecrement:   0.010,
		MinReputation:         0.35,
		MaxDecisionHistory:    200,
		SceneConfigPath:       "client_config.json",
		Operator: OperatorSettings{
			Enabled:    true,
			SocketPath: "/run/edge-broker/operator.sock",
		},
		Observability: ObservabilitySettings{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "console",
		},
		Storage: StorageSettings{
			Enabled:       false,
			DBPath:        "/var/lib/edge-broker/ledger.db",
			RetentionDays: 30,
			WriteTimeout:  2 * time.Second,
		},
	}
}

// Load reads and validates a broker settings document from path.
func Load(path string) (*Settings, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all settings fields for correctness, returning a
// descriptive error listing every violation found.
func Validate(cfg *Settings) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.Variant != VariantCategorical && cfg.Variant != VariantParking {
		errs = append(errs, fmt.Sprintf("variant must be %q or %q, got %q", VariantCategorical, VariantParking, cfg.Variant))
	}
	if cfg.BrokerIP == "" {
		errs = append(errs, "broker_IP must not be empty")
	}
	if cfg.PortNum < 1 || cfg.PortNum > 65535 {
		errs = append(errs, fmt.Sprintf("port_Num must be in [1, 65535], got %d", cfg.PortNum))
	}
	if cfg.VerdictMinRefreshTime <= 0 {
		errs = append(errs, fmt.Sprintf("verdict_min_refresh_time must be > 0, got %f", cfg.VerdictMinRefreshTime))
	}
	if cfg.OldestAllowableData <= 0 {
		errs = append(errs, fmt.Sprintf("oldest_allowable_data must be > 0, got %f", cfg.OldestAllowableData))
	}
	if cfg.MinReputation < 0.0 || cfg.MinReputation >= 1.0 {
		errs = append(errs, fmt.Sprintf("min_reputation must be in [0.0, 1.0), got %f", cfg.MinReputation))
	}
	if cfg.ReputationIncrement < 0 || cfg.ReputationDecrement < 0 {
		errs = append(errs, "reputation_increment and reputation_decrement must be >= 0")
	}
	if cfg.Variant == VariantParking && cfg.MaxDecisionHistory < 1 {
		errs = append(errs, fmt.Sprintf("max_decision_history must be >= 1 for the parking variant, got %d", cfg.MaxDecisionHistory))
	}
	if cfg.SceneConfigPath == "" {
		errs = append(errs, "scene_config_path must not be empty")
	}
	if cfg.Operator.Enabled && cfg.Operator.SocketPath == "" {
		errs = append(errs, "operator.socket_path must not be empty when operator.enabled is true")
	}
	if cfg.Storage.Enabled {
		if cfg.Storage.DBPath == "" {
			errs = append(errs, "storage.db_path must not be empty when storage.enabled is true")
		}
		if cfg.Storage.RetentionDays < 1 {
			errs = append(errs, fmt.Sprintf("storage.retention_days must be >= 1, got %d", cfg.Storage.RetentionDays))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}

// RefreshInterval returns VerdictMinRefreshTime as a time.Duration.
func (s *Settings) RefreshInterval() time.Duration {
	return time.Duration(s.VerdictMinRefreshTime * float64(time.Second))
}

// StalenessWindow returns OldestAllowableData as a time.Duration.
func (s *Settings) StalenessWindow() time.Duration {
	return time.Duration(s.OldestAllowableData * float64(time.Second))
}
