package master

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-agentplane-go/pkg/bulkhead"
	"github.com/core-tools/hsu-agentplane-go/pkg/errors"
	"github.com/core-tools/hsu-agentplane-go/pkg/lazyloader"
	"github.com/core-tools/hsu-agentplane-go/pkg/monitoring"
	"github.com/core-tools/hsu-agentplane-go/pkg/orchestrator"
	"github.com/core-tools/hsu-agentplane-go/pkg/process"
	"github.com/core-tools/hsu-agentplane-go/pkg/retry"
	"github.com/core-tools/hsu-agentplane-go/pkg/units"
)

// MasterConfig is the top-level configuration file structure.
type MasterConfig struct {
	Control       ControlConfig             `yaml:"control"`
	Units         []units.UnitSpec          `yaml:"units"`
	Retry         retry.Config              `yaml:"retry,omitempty"`
	SpawnBulkhead bulkhead.Config           `yaml:"spawn_bulkhead,omitempty"`
	Supervisor    process.SupervisorOptions `yaml:"supervisor,omitempty"`
	Orchestrator  orchestrator.Options      `yaml:"orchestrator,omitempty"`
	Monitoring    monitoring.MonitorOptions `yaml:"monitoring,omitempty"`
	LazyLoading   LazyLoadingConfig         `yaml:"lazy_loading,omitempty"`
}

// ControlConfig configures the control plane itself.
type ControlConfig struct {
	// ListenAddr is the operator HTTP surface address.
	ListenAddr string `yaml:"listen_addr,omitempty"`

	LogLevel string `yaml:"log_level,omitempty"`

	// Autostart brings the whole stack up as soon as the control plane
	// runs, without waiting for an operator start command.
	Autostart bool `yaml:"autostart,omitempty"`

	ForceShutdownTimeout time.Duration `yaml:"force_shutdown_timeout,omitempty"`
}

// LazyLoadingConfig enables on-demand activation driven by the coordinator
// event stream.
type LazyLoadingConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`

	// CoordinatorURL is the websocket endpoint carrying load events.
	CoordinatorURL string `yaml:"coordinator_url,omitempty"`

	// ObservabilityURL receives best-effort activation notifications.
	ObservabilityURL string `yaml:"observability_url,omitempty"`

	// LoaderName identifies this loader in activation notifications.
	LoaderName string `yaml:"loader_name,omitempty"`

	Options lazyloader.Options `yaml:",inline"`
}

// LoadConfigFromFile loads the control-plane configuration from a YAML
// file and applies defaults.
func LoadConfigFromFile(filename string) (*MasterConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config MasterConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)
	return &config, nil
}

func setConfigDefaults(config *MasterConfig) {
	if config.Control.ListenAddr == "" {
		config.Control.ListenAddr = "127.0.0.1:8600"
	}
	if config.Control.LogLevel == "" {
		config.Control.LogLevel = "info"
	}
	if config.Control.ForceShutdownTimeout == 0 {
		config.Control.ForceShutdownTimeout = 30 * time.Second
	}
	if config.LazyLoading.LoaderName == "" {
		config.LazyLoading.LoaderName = "agentplane"
	}

	config.Retry.SetDefaults()
	if config.SpawnBulkhead.Name == "" {
		config.SpawnBulkhead.Name = "spawn"
	}
	config.SpawnBulkhead.SetDefaults()
	config.Supervisor.SetDefaults()
	config.Orchestrator.SetDefaults()
	if config.Monitoring.Interval == 0 {
		config.Monitoring.Interval = 30 * time.Second
	}
	if config.Monitoring.Timeout == 0 {
		config.Monitoring.Timeout = 5 * time.Second
	}
	config.LazyLoading.Options.SetDefaults()

	for i := range config.Units {
		units.SetSpecDefaults(&config.Units[i])
	}
}

// ValidateConfig validates the entire configuration structure.
func ValidateConfig(config *MasterConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if len(config.Units) == 0 {
		return errors.NewValidationError("no units configured", nil)
	}
	if err := units.ValidateSpecs(config.Units); err != nil {
		return errors.NewValidationError("invalid units configuration", err)
	}

	if err := retry.Validate(config.Retry); err != nil {
		return errors.NewValidationError("invalid retry configuration", err)
	}
	if err := bulkhead.Validate(config.SpawnBulkhead); err != nil {
		return errors.NewValidationError("invalid spawn bulkhead configuration", err)
	}

	if config.LazyLoading.Enabled && config.LazyLoading.CoordinatorURL == "" {
		return errors.NewValidationError("lazy loading enabled without coordinator_url", nil)
	}

	return nil
}
