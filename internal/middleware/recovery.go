package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/vyrodovalexey/govgate/internal/observability"
	"github.com/vyrodovalexey/govgate/internal/util"
)

// Recovery returns a middleware that recovers from panics. The stack is
// logged; the client gets a 500 JSON failure body without internals.
func Recovery(logger observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}

					logger.WithContext(r.Context()).Error("panic recovered",
						observability.String("path", r.URL.Path),
						observability.String("method", r.Method),
						observability.Any("error", err),
						observability.String("stack", string(debug.Stack())),
					)

					GetMiddlewareMetrics().panicsRecovered.Inc()

					w.Header().Set(util.HeaderContentType, util.ContentTypeJSON)
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(util.FailureBody{
						Error:   errInternalServerError,
						Message: "The request could not be processed.",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
