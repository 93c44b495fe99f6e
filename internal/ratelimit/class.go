package ratelimit

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/vyrodovalexey/govgate/internal/util"
)

// Request classes.
const (
	ClassAuth    = "auth"
	ClassAPI     = "api"
	ClassGeneral = "general"
)

// ErrUnknownClass is returned for a class name with no limit.
var ErrUnknownClass = errors.New("unknown rate limit class")

var authPathPattern = regexp.MustCompile(`^/api/auth/(login|register|reset)`)

// Limit is the number of requests allowed in a trailing window.
type Limit struct {
	Max    int           `json:"max"`
	Window time.Duration `json:"window"`
}

// DefaultLimits returns the built-in class limits.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		ClassAuth:    {Max: 5, Window: 900 * time.Second},
		ClassAPI:     {Max: 1000, Window: 3600 * time.Second},
		ClassGeneral: {Max: 100, Window: 60 * time.Second},
	}
}

// Classes returns the known class names, sorted.
func Classes() []string {
	names := []string{ClassAuth, ClassAPI, ClassGeneral}
	sort.Strings(names)
	return names
}

// IsKnownClass reports whether name is a request class.
func IsKnownClass(name string) bool {
	switch name {
	case ClassAuth, ClassAPI, ClassGeneral:
		return true
	default:
		return false
	}
}

// Classify returns the class of a request path.
func Classify(path string) string {
	switch {
	case authPathPattern.MatchString(path):
		return ClassAuth
	case strings.HasPrefix(path, util.APIPathPrefix):
		return ClassAPI
	default:
		return ClassGeneral
	}
}
