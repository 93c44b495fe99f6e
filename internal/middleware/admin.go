package middleware

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/cel-go/cel"
	"golang.org/x/crypto/bcrypt"

	"github.com/vyrodovalexey/govgate/internal/audit"
	"github.com/vyrodovalexey/govgate/internal/observability"
	"github.com/vyrodovalexey/govgate/internal/util"
)

// ErrAdminNotConfigured is returned when neither a policy nor a key hash
// is configured.
var ErrAdminNotConfigured = errors.New("admin stage needs a policy or a key hash")

// Admin decision results used as metric labels.
const (
	adminPolicy = "policy"
	adminKey    = "key"
	adminDenied = "denied"
	adminError  = "error"
)

// AdminConfig configures the admin stage.
type AdminConfig struct {
	// Policy is a CEL expression over subject and request that must
	// evaluate to true, for example `"admin" in subject.roles`.
	Policy string
	// KeyHash is the bcrypt hash of the break-glass X-Admin-Key value.
	KeyHash string
}

// AdminOption configures the admin stage.
type AdminOption func(*adminGuard)

// WithAdminLogger sets the logger.
func WithAdminLogger(logger observability.Logger) AdminOption {
	return func(g *adminGuard) {
		g.logger = logger
	}
}

// WithAdminAudit sets the audit sink for denied requests.
func WithAdminAudit(auditor audit.Logger) AdminOption {
	return func(g *adminGuard) {
		g.audit = auditor
	}
}

type adminGuard struct {
	program cel.Program
	keyHash []byte

	// keyCache holds the last key that matched keyHash.
	keyMu    sync.Mutex
	keyCache string

	logger observability.Logger
	audit  audit.Logger
}

// CompileAdminPolicy compiles a CEL admin policy. The expression sees
// two maps: subject (id, roles, claims) and request (method, path, host,
// client_ip).
func CompileAdminPolicy(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("subject", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile admin policy: %w", issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build admin policy program: %w", err)
	}
	return program, nil
}

// Admin returns the admin stage. A request passes when the policy
// evaluates to true for the identity left by the auth stage, or when it
// carries an X-Admin-Key matching the configured bcrypt hash. Everything
// else is answered with 403.
func Admin(cfg AdminConfig, opts ...AdminOption) (func(http.Handler) http.Handler, error) {
	if cfg.Policy == "" && cfg.KeyHash == "" {
		return nil, ErrAdminNotConfigured
	}

	g := &adminGuard{
		logger: observability.NopLogger(),
		audit:  audit.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}

	if cfg.Policy != "" {
		program, err := CompileAdminPolicy(cfg.Policy)
		if err != nil {
			return nil, err
		}
		g.program = program
	}
	if cfg.KeyHash != "" {
		if _, err := bcrypt.Cost([]byte(cfg.KeyHash)); err != nil {
			return nil, fmt.Errorf("invalid admin key hash: %w", err)
		}
		g.keyHash = []byte(cfg.KeyHash)
	}

	return g.middleware, nil
}

func (g *adminGuard) middleware(next http.Handler) http.Handler {
	metrics := GetMiddlewareMetrics()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := g.decide(r)
		metrics.adminDecisions.WithLabelValues(result).Inc()

		if result == adminPolicy || result == adminKey {
			next.ServeHTTP(w, r)
			return
		}

		log := g.logger.WithContext(r.Context())
		if err != nil {
			log.Error("admin policy evaluation failed", observability.Error(err))
		} else {
			log.Debug("admin access denied", observability.String("path", r.URL.Path))
		}
		g.audit.Log(r.Context(), audit.NewRequestEvent(audit.KindAdminDenied, r, "admin access denied").
			WithDetail("result", result))

		util.WriteFailure(w, r, http.StatusForbidden, errAdminAccessDenied,
			"Administrator privileges are required.")
	})
}

func (g *adminGuard) decide(r *http.Request) (string, error) {
	if key := r.Header.Get(HeaderAdminKey); key != "" && g.keyHash != nil {
		if g.checkKey(key) {
			return adminKey, nil
		}
	}

	if g.program == nil {
		return adminDenied, nil
	}

	out, _, err := g.program.Eval(map[string]interface{}{
		"subject": subjectAttributes(util.IdentityFromContext(r.Context())),
		"request": map[string]interface{}{
			"method":    r.Method,
			"path":      r.URL.Path,
			"host":      r.Host,
			"client_ip": clientIP(r),
		},
	})
	if err != nil {
		return adminError, err
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return adminError, fmt.Errorf("admin policy returned %T, want bool", out.Value())
	}
	if allowed {
		return adminPolicy, nil
	}
	return adminDenied, nil
}

func (g *adminGuard) checkKey(key string) bool {
	g.keyMu.Lock()
	cached := g.keyCache
	g.keyMu.Unlock()
	if cached != "" && subtle.ConstantTimeCompare([]byte(cached), []byte(key)) == 1 {
		return true
	}

	if bcrypt.CompareHashAndPassword(g.keyHash, []byte(key)) != nil {
		return false
	}

	g.keyMu.Lock()
	g.keyCache = key
	g.keyMu.Unlock()
	return true
}

func subjectAttributes(id *util.Identity) map[string]interface{} {
	if id == nil {
		return map[string]interface{}{
			"id":     "",
			"roles":  []string{},
			"claims": map[string]interface{}{},
		}
	}

	roles := id.Roles
	if roles == nil {
		roles = []string{}
	}
	claims := id.Claims
	if claims == nil {
		claims = map[string]interface{}{}
	}
	return map[string]interface{}{
		"id":     id.UserID,
		"roles":  roles,
		"claims": claims,
	}
}
