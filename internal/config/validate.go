package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// minProductionPassword is the shortest backend password production accepts.
const minProductionPassword = 12

func validatePort(port, component string) error {
	if port == "" {
		return fmt.Errorf("%s port cannot be empty", component)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("%s port must be a number: %w", component, err)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("%s port must be between 1 and 65535, got %d", component, n)
	}
	return nil
}

func validateHost(host, component string) error {
	return validateNoWhitespace(host, component+" host")
}

// validateNoWhitespace rejects empty values and surrounding whitespace,
// which usually means a badly quoted env file.
func validateNoWhitespace(value, field string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if strings.TrimSpace(value) != value {
		return fmt.Errorf("%s cannot contain whitespace", field)
	}
	return nil
}

func validatePasswordStrength(password, component, environment string) error {
	if environment == EnvironmentProduction && len(password) < minProductionPassword {
		return fmt.Errorf("%s password must be at least %d characters in production", component, minProductionPassword)
	}
	return nil
}

// parseAndValidateURL parses rawURL and requires one of schemes and a host.
func parseAndValidateURL(rawURL string, schemes []string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if !slices.Contains(schemes, parsed.Scheme) {
		return nil, fmt.Errorf("invalid scheme %q, must be one of: %s", parsed.Scheme, strings.Join(schemes, ", "))
	}
	if parsed.Host == "" {
		return nil, errors.New("host is required in URL")
	}
	return parsed, nil
}
