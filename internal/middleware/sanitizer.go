package middleware

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/vyrodovalexey/govgate/internal/util"
)

// SanitizeValue normalizes a single input value: NFC normalization,
// control characters other than tab, newline and carriage return removed,
// surrounding whitespace trimmed.
func SanitizeValue(s string) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// sanitizeValues rewrites every value in place and reports whether any
// value changed.
func sanitizeValues(values url.Values) bool {
	changed := false
	for key, list := range values {
		for i, v := range list {
			clean := SanitizeValue(v)
			if clean != v {
				list[i] = clean
				changed = true
			}
		}
		values[key] = list
	}
	return changed
}

// SanitizerOption configures the input_sanitizer stage.
type SanitizerOption func(*sanitizer)

// WithSanitizerMaxBodyBytes bounds the form bodies the stage rewrites.
// Larger bodies are passed through untouched.
func WithSanitizerMaxBodyBytes(n int64) SanitizerOption {
	return func(s *sanitizer) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

type sanitizer struct {
	maxBytes int64
}

// InputSanitizer returns the input_sanitizer stage. Query values and
// URL-encoded form bodies are normalized with SanitizeValue; other bodies
// are left alone.
func InputSanitizer(opts ...SanitizerOption) func(http.Handler) http.Handler {
	s := &sanitizer{maxBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(s)
	}
	metrics := GetMiddlewareMetrics()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.RawQuery != "" {
				if query, err := url.ParseQuery(r.URL.RawQuery); err == nil && sanitizeValues(query) {
					u := *r.URL
					u.RawQuery = query.Encode()
					r.URL = &u
					r.Form = nil
					metrics.sanitized.WithLabelValues("query").Inc()
				}
			}

			if hasBody(r.Method) && isFormContentType(r.Header.Get(util.HeaderContentType)) {
				if s.sanitizeForm(r) {
					metrics.sanitized.WithLabelValues("form").Inc()
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// sanitizeForm rewrites a URL-encoded body. The body is always restored,
// whether or not it could be parsed.
func (s *sanitizer) sanitizeForm(r *http.Request) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return false
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, s.maxBytes+1))
	if err != nil || int64(len(raw)) > s.maxBytes {
		r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(raw), r.Body), Closer: r.Body}
		return false
	}
	_ = r.Body.Close()

	form, err := url.ParseQuery(string(raw))
	if err != nil || !sanitizeValues(form) {
		r.Body = io.NopCloser(bytes.NewReader(raw))
		return false
	}

	encoded := form.Encode()
	r.Body = io.NopCloser(strings.NewReader(encoded))
	r.ContentLength = int64(len(encoded))
	r.Header.Set(HeaderContentLength, strconv.Itoa(len(encoded)))
	r.PostForm = nil
	r.Form = nil
	return true
}

type readCloser struct {
	io.Reader
	io.Closer
}

func isFormContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == ContentTypeFormURLEncoded
}
