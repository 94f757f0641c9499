package master

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-agentplane-go/pkg/errors"
	"github.com/core-tools/hsu-agentplane-go/pkg/retry"
	"github.com/core-tools/hsu-agentplane-go/pkg/units"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validConfigYAML = `
control:
  listen_addr: "127.0.0.1:9600"
  log_level: debug
  autostart: true
units:
  - name: db-agent
    executable_path: /usr/local/bin/db-agent
    port: 7000
    required: true
  - name: api-agent
    executable_path: /usr/local/bin/api-agent
    port: 7010
    health_port: 7019
    required: true
    dependencies: [db-agent]
    environment:
      MODE: production
retry:
  max_attempts: 5
  base_delay: 500ms
  strategy: exponential
spawn_bulkhead:
  strategy: semaphore
  max_concurrent: 4
lazy_loading:
  enabled: true
  coordinator_url: ws://127.0.0.1:9700/events
  startup_timeout: 45s
`

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, validConfigYAML)

	config, err := LoadConfigFromFile(path)
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(config))

	assert.Equal(t, "127.0.0.1:9600", config.Control.ListenAddr)
	assert.Equal(t, "debug", config.Control.LogLevel)
	assert.True(t, config.Control.Autostart)

	require.Len(t, config.Units, 2)
	assert.Equal(t, "db-agent", config.Units[0].Name)
	// Health port defaults to port+1 when unset, stays as declared otherwise.
	assert.Equal(t, 7001, config.Units[0].HealthPort)
	assert.Equal(t, 7019, config.Units[1].HealthPort)
	assert.Equal(t, "production", config.Units[1].Environment["MODE"])

	assert.Equal(t, 5, config.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, config.Retry.BaseDelay)
	assert.Equal(t, retry.BackoffExponential, config.Retry.Strategy)

	assert.Equal(t, "spawn", config.SpawnBulkhead.Name)
	assert.Equal(t, 4, config.SpawnBulkhead.MaxConcurrent)

	assert.Equal(t, 45*time.Second, config.LazyLoading.Options.StartupTimeout)
	assert.Equal(t, 30*time.Second, config.LazyLoading.Options.MonitorInterval)
	assert.Equal(t, "agentplane", config.LazyLoading.LoaderName)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfigFile(t, `
units:
  - name: solo
    executable_path: /usr/local/bin/solo
    port: 7100
`)

	config, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8600", config.Control.ListenAddr)
	assert.Equal(t, "info", config.Control.LogLevel)
	assert.Equal(t, 30*time.Second, config.Control.ForceShutdownTimeout)
	assert.Equal(t, 3, config.Retry.MaxAttempts)
	assert.Equal(t, 60*time.Second, config.Orchestrator.HealthWaitTimeout)
	assert.Equal(t, 5*time.Second, config.Orchestrator.HealthPollInterval)
	assert.Equal(t, 30*time.Second, config.Monitoring.Interval)
	assert.Equal(t, 5*time.Second, config.Monitoring.Timeout)
	assert.Equal(t, 7101, config.Units[0].HealthPort)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfigFromFile("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.True(t, errors.IsIOError(err))
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := writeConfigFile(t, "control: [not a mapping")
	_, err := LoadConfigFromFile(path)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestValidateConfigErrors(t *testing.T) {
	base := func() *MasterConfig {
		config := &MasterConfig{
			Units: []units.UnitSpec{
				{Name: "a", ExecutablePath: "/bin/a", Port: 7000},
			},
		}
		setConfigDefaults(config)
		return config
	}

	t.Run("nil config", func(t *testing.T) {
		assert.Error(t, ValidateConfig(nil))
	})

	t.Run("no units", func(t *testing.T) {
		config := base()
		config.Units = nil
		assert.Error(t, ValidateConfig(config))
	})

	t.Run("duplicate unit names", func(t *testing.T) {
		config := base()
		config.Units = append(config.Units, units.UnitSpec{Name: "a", ExecutablePath: "/bin/b", Port: 7010})
		setConfigDefaults(config)
		assert.Error(t, ValidateConfig(config))
	})

	t.Run("bad retry config", func(t *testing.T) {
		config := base()
		config.Retry.MaxAttempts = -1
		assert.Error(t, ValidateConfig(config))
	})

	t.Run("lazy loading without coordinator", func(t *testing.T) {
		config := base()
		config.LazyLoading.Enabled = true
		config.LazyLoading.CoordinatorURL = ""
		assert.Error(t, ValidateConfig(config))
	})

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, ValidateConfig(base()))
	})
}

func TestValidateConfigFile(t *testing.T) {
	path := writeConfigFile(t, validConfigYAML)
	assert.NoError(t, ValidateConfigFile(path))

	badPath := writeConfigFile(t, "units: []")
	assert.Error(t, ValidateConfigFile(badPath))
}
