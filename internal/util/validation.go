package util

import (
	"fmt"
	"net/url"

	"golang.org/x/net/http/httpguts"
)

// ValidateUpstreamURL checks that rawURL is an absolute http or https URL
// with a host. A path is allowed and becomes the upstream base path.
func ValidateUpstreamURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: URL cannot be empty", ErrInvalidInput)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	switch {
	case parsed.Scheme != "http" && parsed.Scheme != "https":
		return fmt.Errorf("%w: URL scheme must be http or https, got %q", ErrInvalidInput, parsed.Scheme)
	case parsed.Host == "":
		return fmt.Errorf("%w: URL must have a host", ErrInvalidInput)
	case parsed.RawQuery != "" || parsed.Fragment != "":
		return fmt.Errorf("%w: URL must not carry a query or fragment", ErrInvalidInput)
	}
	return nil
}

// ValidateHeader checks a configured response header. Values may be empty
// but must not contain control characters.
func ValidateHeader(name, value string) error {
	if name == "" {
		return fmt.Errorf("%w: header name cannot be empty", ErrInvalidInput)
	}
	if !httpguts.ValidHeaderFieldName(name) {
		return fmt.Errorf("%w: invalid header name %q", ErrInvalidInput, name)
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return fmt.Errorf("%w: invalid value for header %s", ErrInvalidInput, name)
	}
	return nil
}
