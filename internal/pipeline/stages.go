package pipeline

import (
	"fmt"
	"strings"
)

// Built-in stage names.
const (
	StageCSRF            = "csrf"
	StageSecurityHeaders = "security_headers"
	StageRateLimit       = "rate_limit"
	StageAuth            = "auth"
	StageAdmin           = "admin"
	StageCORS            = "cors"
	StageJSONParser      = "json_parser"
	StageInputSanitizer  = "input_sanitizer"
)

// Default stage priorities; higher runs first.
const (
	PriorityCSRF            = 100
	PrioritySecurityHeaders = 90
	PriorityRateLimit       = 80
	PriorityAuth            = 70
	PriorityAdmin           = 60
	PriorityCORS            = 50
	PriorityJSONParser      = 40
	PriorityInputSanitizer  = 30
)

// Default group names.
const (
	GroupAPI    = "api"
	GroupWeb    = "web"
	GroupAdmin  = "admin"
	GroupPublic = "public"
)

// Mode controls how unknown stage names are treated at build time.
type Mode string

const (
	// ModePermissive skips unknown stages and logs a warning.
	ModePermissive Mode = "permissive"
	// ModeStrict fails the build with ErrUnknownStage.
	ModeStrict Mode = "strict"
)

// ParseMode parses a mode name. The empty string is ModePermissive.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModePermissive:
		return ModePermissive, nil
	case ModeStrict:
		return ModeStrict, nil
	default:
		return "", fmt.Errorf("unknown pipeline mode %q", s)
	}
}

// DefaultPriorities returns the priority of every built-in stage.
func DefaultPriorities() map[string]int {
	return map[string]int{
		StageCSRF:            PriorityCSRF,
		StageSecurityHeaders: PrioritySecurityHeaders,
		StageRateLimit:       PriorityRateLimit,
		StageAuth:            PriorityAuth,
		StageAdmin:           PriorityAdmin,
		StageCORS:            PriorityCORS,
		StageJSONParser:      PriorityJSONParser,
		StageInputSanitizer:  PriorityInputSanitizer,
	}
}

// IsBuiltinStage reports whether name is one of the built-in stages.
func IsBuiltinStage(name string) bool {
	_, ok := DefaultPriorities()[name]
	return ok
}

// DefaultGroups returns the built-in groups. The listed order is not the
// execution order; stages are sorted by priority when a group is built.
func DefaultGroups() map[string][]string {
	return map[string][]string{
		GroupAPI:    {StageCORS, StageRateLimit, StageJSONParser, StageInputSanitizer, StageAuth},
		GroupWeb:    {StageCSRF, StageSecurityHeaders, StageInputSanitizer},
		GroupAdmin:  {StageAuth, StageAdmin, StageSecurityHeaders},
		GroupPublic: {StageCORS, StageRateLimit},
	}
}
