package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/govgate/internal/util"
)

func TestSanitizeValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain", input: "hello", expected: "hello"},
		{name: "trims whitespace", input: "  padded \t", expected: "padded"},
		{name: "nfc composition", input: "Jose\u0301", expected: "Jos\u00e9"},
		{name: "strips nul and escape", input: "a\x00b\x1bc", expected: "abc"},
		{name: "keeps inner newline", input: "line1\nline2", expected: "line1\nline2"},
		{name: "strips c1 control", input: "x\u0085y", expected: "xy"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, SanitizeValue(tt.input))
		})
	}
}

func TestInputSanitizer_Query(t *testing.T) {
	t.Parallel()

	var got url.Values
	handler := InputSanitizer()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
	}))

	req := httptest.NewRequest(http.MethodGet, "/search?q=%20Jose%CC%81%00&page=2", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "Jos\u00e9", got.Get("q"))
	assert.Equal(t, "2", got.Get("page"))
}

func TestInputSanitizer_Form(t *testing.T) {
	t.Parallel()

	var (
		name    string
		rawBody string
		length  int64
	)
	handler := InputSanitizer()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		rawBody = string(raw)
		length = r.ContentLength

		values, err := url.ParseQuery(rawBody)
		require.NoError(t, err)
		name = values.Get("name")
	}))

	req := httptest.NewRequest(http.MethodPost, "/forms/apply",
		strings.NewReader("name=+Maria%07+&_csrf_token=abc"))
	req.Header.Set(util.HeaderContentType, ContentTypeFormURLEncoded)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "Maria", name)
	assert.Equal(t, int64(len(rawBody)), length)
	assert.Contains(t, rawBody, "_csrf_token=abc")
}

func TestInputSanitizer_LeavesCleanAndOversizedBodies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "clean body unchanged", body: "b=2&a=1"},
		{name: "oversized body untouched", body: "a=" + strings.Repeat("x", 40) + "%00"},
		{name: "unparsable body untouched", body: "a=%zz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var received string
			handler := InputSanitizer(WithSanitizerMaxBodyBytes(32))(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					raw, _ := io.ReadAll(r.Body)
					received = string(raw)
				}),
			)

			req := httptest.NewRequest(http.MethodPost, "/forms", strings.NewReader(tt.body))
			req.Header.Set(util.HeaderContentType, ContentTypeFormURLEncoded)
			handler.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.body, received)
		})
	}
}
