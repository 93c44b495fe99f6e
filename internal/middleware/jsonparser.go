package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/vyrodovalexey/govgate/internal/observability"
	"github.com/vyrodovalexey/govgate/internal/util"
)

type jsonBodyKey struct{}

// JSON parser rejection reasons used as metric labels.
const (
	jsonTooLarge = "too_large"
	jsonSyntax   = "syntax"
	jsonRead     = "read_error"
)

// errBodyTooLarge is returned by readLimited when the body exceeds the limit.
var errBodyTooLarge = errors.New("request body too large")

// JSONBody returns the decoded JSON body stored by the json_parser stage.
// Numbers are json.Number values.
func JSONBody(ctx context.Context) (any, bool) {
	v, ok := ctx.Value(jsonBodyKey{}).(jsonPayload)
	if !ok {
		return nil, false
	}
	return v.value, true
}

type jsonPayload struct {
	value any
}

// JSONParserOption configures the json_parser stage.
type JSONParserOption func(*jsonParser)

// WithMaxBodyBytes sets the largest accepted body.
func WithMaxBodyBytes(n int64) JSONParserOption {
	return func(p *jsonParser) {
		if n > 0 {
			p.maxBytes = n
		}
	}
}

// WithJSONParserLogger sets the logger.
func WithJSONParserLogger(logger observability.Logger) JSONParserOption {
	return func(p *jsonParser) {
		p.logger = logger
	}
}

type jsonParser struct {
	maxBytes int64
	logger   observability.Logger
}

// JSONParser returns the json_parser stage. POST, PUT and PATCH requests
// with a JSON content type are read up to the limit (413 beyond it) and
// decoded (400 on a syntax error). The decoded value is available through
// JSONBody and the raw body is restored for the next handler.
func JSONParser(opts ...JSONParserOption) func(http.Handler) http.Handler {
	p := &jsonParser{
		maxBytes: DefaultMaxBodyBytes,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	metrics := GetMiddlewareMetrics()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasBody(r.Method) || !isJSONContentType(r.Header.Get(util.HeaderContentType)) {
				next.ServeHTTP(w, r)
				return
			}

			body, err := readLimited(r, p.maxBytes)
			switch {
			case errors.Is(err, errBodyTooLarge):
				metrics.jsonRejected.WithLabelValues(jsonTooLarge).Inc()
				util.WriteFailure(w, r, http.StatusRequestEntityTooLarge, errRequestEntityTooLarge,
					fmt.Sprintf("The request body must not exceed %d bytes.", p.maxBytes))
				return
			case err != nil:
				metrics.jsonRejected.WithLabelValues(jsonRead).Inc()
				p.logger.WithContext(r.Context()).Warn("failed to read request body",
					observability.Error(err),
				)
				util.WriteFailure(w, r, http.StatusBadRequest, errInvalidJSON,
					"The request body could not be read.")
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))

			if len(bytes.TrimSpace(body)) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			value, err := decodeJSON(body)
			if err != nil {
				metrics.jsonRejected.WithLabelValues(jsonSyntax).Inc()
				util.WriteFailure(w, r, http.StatusBadRequest, errInvalidJSON,
					"The request body is not valid JSON.")
				return
			}

			ctx := context.WithValue(r.Context(), jsonBodyKey{}, jsonPayload{value: value})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func decodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return value, nil
}

func hasBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

func isJSONContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == util.ContentTypeJSON || strings.HasSuffix(mediaType, "+json")
}

// readLimited reads the whole body, failing with errBodyTooLarge when it
// holds more than limit bytes.
func readLimited(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	if r.ContentLength > limit {
		return nil, errBodyTooLarge
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}
