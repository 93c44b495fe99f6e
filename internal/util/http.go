package util

import (
	"encoding/json"
	"fmt"
	"html"
	"net"
	"net/http"
	"strings"
)

// APIPathPrefix is the path prefix that marks an API request.
const APIPathPrefix = "/api/"

// Header and content type names shared by the stages.
const (
	HeaderContentType     = "Content-Type"
	HeaderAccept          = "Accept"
	HeaderXForwardedProto = "X-Forwarded-Proto"

	ContentTypeJSON = "application/json"
	ContentTypeHTML = "text/html"
)

// FailureBody is the JSON shape of every rejection issued by the pipeline.
type FailureBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// IsAPIRequest reports whether the request should receive JSON failure
// bodies: the path starts with /api/ or Accept mentions application/json.
func IsAPIRequest(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, APIPathPrefix) {
		return true
	}
	return strings.Contains(r.Header.Get(HeaderAccept), ContentTypeJSON)
}

// IsSecureRequest checks if the request arrived over HTTPS.
func IsSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}

	if strings.EqualFold(r.Header.Get(HeaderXForwardedProto), "https") {
		return true
	}

	return r.URL.Scheme == "https"
}

// WriteFailure writes a rejection with the given status. API requests get
// {"error": errMsg, "message": message}; all others get an HTML fragment.
func WriteFailure(w http.ResponseWriter, r *http.Request, status int, errMsg, message string) {
	if IsAPIRequest(r) {
		w.Header().Set(HeaderContentType, ContentTypeJSON)
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(FailureBody{Error: errMsg, Message: message})
		return
	}

	w.Header().Set(HeaderContentType, ContentTypeHTML+"; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "<h1>%d %s</h1><p>%s</p>",
		status, http.StatusText(status), html.EscapeString(message))
}

// StripPort removes the port from an address string.
// Handles both IPv4 ("192.168.1.1:8080") and IPv6 ("[::1]:8080") formats.
func StripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// StatusCapturingResponseWriter wraps http.ResponseWriter to track the
// status code and whether the response was committed.
type StatusCapturingResponseWriter struct {
	http.ResponseWriter
	StatusCode    int
	HeaderWritten bool
	Size          int
}

// NewStatusCapturingResponseWriter creates a new StatusCapturingResponseWriter
// wrapping the provided http.ResponseWriter with a default status of 200 OK.
func NewStatusCapturingResponseWriter(w http.ResponseWriter) *StatusCapturingResponseWriter {
	return &StatusCapturingResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code and writes it to the underlying ResponseWriter.
func (w *StatusCapturingResponseWriter) WriteHeader(code int) {
	if w.HeaderWritten {
		return
	}
	w.StatusCode = code
	w.HeaderWritten = true
	w.ResponseWriter.WriteHeader(code)
}

// Write writes data to the underlying ResponseWriter and marks header as written.
func (w *StatusCapturingResponseWriter) Write(b []byte) (int, error) {
	if !w.HeaderWritten {
		w.HeaderWritten = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.Size += n
	return n, err
}

// Flush implements http.Flusher interface for streaming support.
func (w *StatusCapturingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter.
func (w *StatusCapturingResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Compile-time interface assertion.
var _ http.Flusher = (*StatusCapturingResponseWriter)(nil)
