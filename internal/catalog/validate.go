package catalog

import (
	"fmt"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/riskinsure/fileretrieval/internal/domain"
	"github.com/riskinsure/fileretrieval/internal/protocol"
	"github.com/riskinsure/fileretrieval/internal/trigger"
)

// ValidationError represents a single validation problem.
type ValidationError struct {
	Configuration string
	Field         string
	Message       string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Configuration, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Configuration, e.Message)
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Validate checks a single configuration for errors.
func Validate(cfg domain.Configuration) []*ValidationError {
	var errs []*ValidationError
	name := cfg.Key()
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Configuration: name, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !idPattern.MatchString(cfg.ClientID) {
		add("client", "invalid client id %q", cfg.ClientID)
	}
	if !idPattern.MatchString(cfg.ID) {
		add("id", "invalid configuration id %q", cfg.ID)
	}

	if cfg.Cron == "" {
		add("cron", "is required")
	} else if err := trigger.ValidateCron(cfg.Cron, cfg.Location()); err != nil {
		add("cron", "%s", err)
	}

	// Settings are only meaningful for a known protocol
	if !cfg.Protocol.Valid() {
		add("protocol", "unsupported protocol %q", cfg.Protocol)
	} else if err := protocol.ValidateSettings(cfg); err != nil {
		add("settings", "%s", err)
	}

	if cfg.PathPattern == "" {
		add("path_pattern", "is required")
	} else if !doublestar.ValidatePattern(cfg.PathPattern) {
		add("path_pattern", "invalid pattern %q", cfg.PathPattern)
	}
	if cfg.FilenamePattern != "" && !doublestar.ValidatePattern(cfg.FilenamePattern) {
		add("filename_pattern", "invalid pattern %q", cfg.FilenamePattern)
	}

	if len(cfg.Events) == 0 && len(cfg.Commands) == 0 {
		add("", "at least one event or command definition is required")
	}
	for i, e := range cfg.Events {
		if e.Type == "" {
			add(fmt.Sprintf("events[%d].type", i), "is required")
		}
	}
	for i, c := range cfg.Commands {
		if c.Type == "" {
			add(fmt.Sprintf("commands[%d].type", i), "is required")
		}
		if c.Target == "" {
			add(fmt.Sprintf("commands[%d].target", i), "is required")
		}
	}

	return errs
}

// ValidateAll discovers all configurations under dir and validates each one.
func ValidateAll(dir string) ([]*ValidationError, error) {
	configs, err := Discover(dir)
	if err != nil {
		return nil, err
	}

	if len(configs) == 0 {
		return nil, fmt.Errorf("no configurations found in %s", dir)
	}

	var allErrs []*ValidationError
	for _, cfg := range configs {
		allErrs = append(allErrs, Validate(cfg)...)
	}

	return allErrs, nil
}
