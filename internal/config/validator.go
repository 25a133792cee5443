package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the parsed flags before any socket is opened. A bad
// destination host must abort startup, not surface later as a dial error
// on every generation.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	if strings.TrimSpace(cfg.DestinationHost) == "" {
		result.AddError("destination_host", "destination host is required (-d)")
	} else if err := ValidateHost(cfg.DestinationHost); err != nil {
		result.AddError("destination_host", err.Error())
	}

	if strings.TrimSpace(cfg.ListenHost) == "" {
		result.AddWarning("listen_host", "listen host is empty, binding all interfaces")
	} else if err := ValidateHost(cfg.ListenHost); err != nil {
		result.AddError("listen_host", err.Error())
	}

	return result
}

const (
	maxHostnameLen = 253
	maxLabelLen    = 63
	maxOctet       = 255
)

var (
	ipShapePattern  = regexp.MustCompile(`^\d+(\.\d+){3}$`)
	hostnamePattern = regexp.MustCompile(`(?i)^([a-z0-9]+(-[a-z0-9]*)*\.?)+$`)
)

// ValidateHost verifies that host is a syntactically valid IPv4 address or
// DNS hostname.
func ValidateHost(host string) error {
	switch {
	case ipShapePattern.MatchString(host):
		return validateIP(host)
	case hostnamePattern.MatchString(host):
		return validateHostname(host)
	default:
		return fmt.Errorf("host %q is not a valid hostname or IP address", host)
	}
}

func validateIP(host string) error {
	octets := strings.Split(host, ".")
	reconstructed := make([]string, 0, len(octets))
	for _, o := range octets {
		n, err := strconv.Atoi(o)
		if err != nil || n > maxOctet {
			return fmt.Errorf("invalid octet %s in IP address %s", o, host)
		}
		reconstructed = append(reconstructed, strconv.Itoa(n))
	}
	// Octets with leading zeros parse fine but are ambiguous on the wire
	// (historically octal); reject them.
	if strings.Join(reconstructed, ".") != host {
		return fmt.Errorf("remove extraneous leading zeros from IP address %s", host)
	}
	return nil
}

func validateHostname(host string) error {
	hostnameLen := 0
	for _, label := range strings.Split(host, ".") {
		if len(label) > maxLabelLen {
			return fmt.Errorf("label %s is too long (%d vs. %d character max)", label, len(label), maxLabelLen)
		}
		hostnameLen += len(label) + 1 // count the delimiting '.'
	}
	if hostnameLen-1 > maxHostnameLen {
		return fmt.Errorf("hostname %s is too long (%d vs. %d character max)", host, hostnameLen-1, maxHostnameLen)
	}
	return nil
}
