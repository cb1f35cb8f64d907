package llm

import (
	"fmt"
	"net/url"
	"time"
)

// These constants define the valid ranges for common LLM parameters.
// They are used for validation across different providers to ensure consistency.
const (
	// MinTemperature is the minimum allowed value for temperature.
	MinTemperature = 0.0
	// MaxTemperature is the maximum allowed value for temperature.
	// This is set to 2.0 to accommodate providers like Gemini.
	MaxTemperature = 2.0
	// MinMaxTokens is the minimum allowed value for the maximum number of tokens.
	MinMaxTokens = 1
	// MinTimeout is the minimum allowed duration for a request timeout.
	MinTimeout = 1 * time.Second
	// MaxTimeout is the maximum allowed duration for a request timeout.
	MaxTimeout = 10 * time.Minute
)

// ValidateBaseURL validates and normalizes a base URL string.
// It ensures the URL has a valid scheme (http or https) and a host.
// An empty string is considered valid and returns no error, allowing for default URLs.
func ValidateBaseURL(baseURL string) (string, error) {
	if baseURL == "" {
		// An empty URL is valid; it signifies that the default provider URL should be used.
		return "", nil
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}

	if parsedURL.Scheme == "" {
		return "", fmt.Errorf("URL must include a scheme (e.g., http:// or https://)")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", fmt.Errorf("URL scheme must be http or https, but got: %s", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return "", fmt.Errorf("URL must include a host")
	}

	return parsedURL.String(), nil
}

// ValidateTimeout ensures the timeout is within a reasonable range.
// If the timeout is zero or negative, it returns zero to indicate that the default should be used.
// If it's outside the [MinTimeout, MaxTimeout] range, it clamps it to the nearest boundary.
func ValidateTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		// A zero or negative timeout indicates that the system default should be used.
		return 0
	}
	if timeout < MinTimeout {
		return MinTimeout
	}
	if timeout > MaxTimeout {
		return MaxTimeout
	}
	return timeout
}

// ClampFloat64 clamps a float64 value to be within the specified min and max range.
func ClampFloat64(val, min, max float64) float64 {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// ClampInt clamps an int value to be within the specified min and max range.
func ClampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
