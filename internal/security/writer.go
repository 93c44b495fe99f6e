package security

import "net/http"

// headerWriter applies the policy headers when the response is committed.
type headerWriter struct {
	http.ResponseWriter
	policy   *Policy
	computed map[string]string
	applied  bool
}

func (w *headerWriter) commit() {
	if w.applied {
		return
	}
	w.applied = true
	w.policy.apply(w.ResponseWriter.Header(), w.computed)
}

// WriteHeader applies the headers before the status line is sent.
func (w *headerWriter) WriteHeader(statusCode int) {
	w.commit()
	w.ResponseWriter.WriteHeader(statusCode)
}

// Write applies the headers before the first body byte.
func (w *headerWriter) Write(b []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(b)
}

// Flush implements http.Flusher.
func (w *headerWriter) Flush() {
	w.commit()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter.
func (w *headerWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
