package units

import (
	"fmt"

	"github.com/core-tools/hsu-agentplane-go/pkg/errors"
)

// UnitSpec is the immutable description of one independently-managed agent
// process, created at configuration load and never mutated afterwards.
type UnitSpec struct {
	Name             string            `yaml:"name"`
	ExecutablePath   string            `yaml:"executable_path"`
	Args             []string          `yaml:"args,omitempty"`
	WorkingDirectory string            `yaml:"working_directory,omitempty"`
	Port             int               `yaml:"port"`
	HealthPort       int               `yaml:"health_port,omitempty"` // defaults to Port+1
	Required         bool              `yaml:"required"`
	Dependencies     []string          `yaml:"dependencies,omitempty"`
	Priority         int               `yaml:"priority,omitempty"`
	Environment      map[string]string `yaml:"environment,omitempty"`
}

// HealthAddress returns the TCP address of the unit's health channel.
func (s UnitSpec) HealthAddress() string {
	return fmt.Sprintf("127.0.0.1:%d", s.HealthPort)
}

// SetSpecDefaults applies per-unit defaults.
func SetSpecDefaults(spec *UnitSpec) {
	if spec.HealthPort == 0 {
		spec.HealthPort = spec.Port + 1
	}
}

// ValidateSpec validates a single unit spec.
func ValidateSpec(spec UnitSpec) error {
	if spec.Name == "" {
		return errors.NewValidationError("unit name cannot be empty", nil)
	}
	if spec.ExecutablePath == "" {
		return errors.NewValidationError("executable_path cannot be empty", nil).WithContext("unit", spec.Name)
	}
	if spec.Port <= 0 || spec.Port > 65535 {
		return errors.NewValidationError(
			fmt.Sprintf("invalid port number: %d", spec.Port), nil,
		).WithContext("unit", spec.Name).WithContext("valid_range", "1-65535")
	}
	if spec.HealthPort < 0 || spec.HealthPort > 65535 {
		return errors.NewValidationError(
			fmt.Sprintf("invalid health port number: %d", spec.HealthPort), nil,
		).WithContext("unit", spec.Name)
	}
	for _, dependency := range spec.Dependencies {
		if dependency == spec.Name {
			return errors.NewValidationError("unit cannot depend on itself", nil).WithContext("unit", spec.Name)
		}
	}
	return nil
}

// ValidateSpecs validates a full unit list, including duplicate detection.
func ValidateSpecs(specs []UnitSpec) error {
	seen := make(map[string]int)
	for i, spec := range specs {
		if err := ValidateSpec(spec); err != nil {
			return errors.NewValidationError(
				fmt.Sprintf("invalid unit at index %d", i), err,
			).WithContext("unit", spec.Name)
		}
		if previous, exists := seen[spec.Name]; exists {
			return errors.NewValidationError(
				fmt.Sprintf("duplicate unit name '%s' found at indices %d and %d", spec.Name, previous, i), nil,
			)
		}
		seen[spec.Name] = i
	}
	return nil
}
