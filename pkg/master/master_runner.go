package master

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/core-tools/hsu-agentplane-go/pkg/errors"
	"github.com/core-tools/hsu-agentplane-go/pkg/logging"
)

// Run loads the configuration, assembles the control plane, and blocks
// until a termination signal or the optional run duration elapses.
func Run(runDuration int, configFile string, logger logging.Logger) error {
	logger.Infof("Control plane starting...")

	ctx := context.Background()
	var cancel context.CancelFunc
	if runDuration > 0 {
		duration := time.Duration(runDuration) * time.Second
		logger.Infof("Using run duration of %s", duration)
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	logger.Infof("Using configuration file: %s", configFile)

	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return errors.NewIOError("failed to load configuration", err).WithContext("config_file", configFile)
	}
	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}

	logger.Infof("Configuration loaded, listen addr: %s, units: %d",
		config.Control.ListenAddr, len(config.Units))

	master, err := NewMaster(config, logger)
	if err != nil {
		return errors.NewInternalError("failed to create master", err)
	}

	if err := master.Start(ctx); err != nil {
		return errors.NewInternalError("failed to start master", err)
	}

	if config.Control.Autostart {
		logger.Infof("Autostart enabled, bringing the stack up...")
		if err := master.StartStack(ctx); err != nil {
			logger.Errorf("Stack bring-up failed, error: %v", err)
			stopCtx, stopCancel := context.WithTimeout(context.Background(), config.Control.ForceShutdownTimeout)
			defer stopCancel()
			_ = master.Stop(stopCtx)
			return err
		}
		logger.Infof("Stack is ready")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case receivedSignal := <-sig:
		logger.Infof("Received signal: %v", receivedSignal)
	case <-ctx.Done():
		logger.Infof("Run duration elapsed")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), config.Control.ForceShutdownTimeout)
	defer stopCancel()
	if err := master.Stop(stopCtx); err != nil {
		logger.Errorf("Shutdown finished with errors, error: %v", err)
		return err
	}

	logger.Infof("Control plane stopped")
	return nil
}

// ValidateConfigFile validates a configuration file without running it.
func ValidateConfigFile(configFile string) error {
	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return errors.NewIOError("failed to load configuration", err).WithContext("config_file", configFile)
	}
	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}
	return nil
}
