package config

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/vyrodovalexey/govgate/internal/pipeline"
	"github.com/vyrodovalexey/govgate/internal/ratelimit"
	"github.com/vyrodovalexey/govgate/internal/security"
	"github.com/vyrodovalexey/govgate/internal/util"
)

// ErrInvalidConfig is matched by every configuration validation error.
var ErrInvalidConfig = util.ErrConfigInvalid

// structValidator is shared; validator.Validate caches struct metadata
// and is safe for concurrent use.
var structValidator = validator.New(validator.WithRequiredStructEnabled())

// ValidationError represents a single configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Is reports whether target is ErrInvalidConfig.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks struct tags and the cross-field rules struct tags
// cannot express. It returns ValidationErrors listing every problem.
func Validate(cfg *Config) error {
	if cfg == nil {
		return ValidationErrors{{Message: "configuration is nil"}}
	}

	var errs ValidationErrors

	if err := structValidator.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, ValidationError{
				Path:    fieldPath(fe.Namespace()),
				Message: describeFieldError(fe),
			})
		}
	}

	errs = append(errs, validateDurations(cfg)...)
	errs = append(errs, validateBackends(cfg)...)
	errs = append(errs, validateRateLimit(&cfg.RateLimit)...)
	errs = append(errs, validatePipeline(cfg)...)
	errs = append(errs, validateSecurityHeaders(&cfg.SecurityHeaders)...)
	errs = append(errs, validateAdmin(&cfg.Admin)...)

	if cfg.Upstream.URL != "" {
		if err := util.ValidateUpstreamURL(cfg.Upstream.URL); err != nil {
			errs = append(errs, ValidationError{Path: "upstream.url", Message: err.Error()})
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// fieldPath strips the root type name from a validator namespace.
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "required_with":
		return fmt.Sprintf("field is required when %s is set", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return fmt.Sprintf("must have at least %s characters", fe.Param())
	case "startswith":
		return fmt.Sprintf("must start with %q", fe.Param())
	default:
		return fmt.Sprintf("validation failed (%s)", fe.Tag())
	}
}

func validateDurations(cfg *Config) ValidationErrors {
	var errs ValidationErrors
	positive := map[string]Duration{
		"server.shutdownTimeout": cfg.Server.ShutdownTimeout,
		"session.idleTTL":        cfg.Session.IdleTTL,
		"csrf.tokenTTL":          cfg.CSRF.TokenTTL,
	}
	for path, d := range positive {
		if d <= 0 {
			errs = append(errs, ValidationError{Path: path, Message: "duration must be positive"})
		}
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Path < errs[j].Path })
	return errs
}

func validateBackends(cfg *Config) ValidationErrors {
	var errs ValidationErrors
	if cfg.Session.Backend == BackendRedis && cfg.Redis.Address == "" {
		errs = append(errs, ValidationError{
			Path:    "redis.address",
			Message: "redis address is required when session.backend is redis",
		})
	}
	if cfg.RateLimit.Store == BackendRedis && cfg.Redis.Address == "" {
		errs = append(errs, ValidationError{
			Path:    "redis.address",
			Message: "redis address is required when rateLimit.store is redis",
		})
	}
	return errs
}

func validateRateLimit(cfg *RateLimitConfig) ValidationErrors {
	var errs ValidationErrors
	for _, name := range sortedKeys(cfg.Classes) {
		if !ratelimit.IsKnownClass(name) {
			errs = append(errs, ValidationError{
				Path:    "rateLimit.classes." + name,
				Message: fmt.Sprintf("unknown rate limit class (known: %s)", strings.Join(ratelimit.Classes(), ", ")),
			})
		}
	}
	return errs
}

func validatePipeline(cfg *Config) ValidationErrors {
	var errs ValidationErrors
	groups := cfg.PipelineGroups()

	if pipeline.Mode(cfg.Pipeline.Mode) == pipeline.ModeStrict {
		for _, name := range sortedKeys(groups) {
			for _, stage := range groups[name] {
				if !pipeline.IsBuiltinStage(stage) {
					errs = append(errs, ValidationError{
						Path:    "pipeline.groups." + name,
						Message: fmt.Sprintf("unknown stage %q in strict mode", stage),
					})
				}
			}
		}
	}

	for i, route := range cfg.Pipeline.Routes {
		if _, ok := groups[route.Group]; !ok {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("pipeline.routes[%d].group", i),
				Message: fmt.Sprintf("undefined group %q", route.Group),
			})
		}
	}
	return errs
}

func validateSecurityHeaders(cfg *SecurityHeadersConfig) ValidationErrors {
	var errs ValidationErrors
	check := func(section string, headers map[string]string) {
		for _, name := range sortedKeys(headers) {
			if err := util.ValidateHeader(name, headers[name]); err != nil {
				errs = append(errs, ValidationError{Path: section + "." + name, Message: err.Error()})
				continue
			}
			if http.CanonicalHeaderKey(name) == security.HeaderReferrerPolicy &&
				!security.IsValidReferrerPolicy(headers[name]) {
				errs = append(errs, ValidationError{
					Path:    section + "." + name,
					Message: fmt.Sprintf("invalid referrer policy %q", headers[name]),
				})
			}
		}
	}
	check("securityHeaders.headers", cfg.Headers)
	check("securityHeaders.apiHeaders", cfg.APIHeaders)
	return errs
}

func validateAdmin(cfg *AdminConfig) ValidationErrors {
	if cfg.KeyHash == "" {
		return nil
	}
	if _, err := bcrypt.Cost([]byte(cfg.KeyHash)); err != nil {
		return ValidationErrors{{Path: "admin.keyHash", Message: "must be a bcrypt hash"}}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
