package audit

import (
	"net/http"
	"time"

	"github.com/vyrodovalexey/govgate/internal/util"
)

// Kind identifies the type of a security event.
type Kind string

// Event kinds.
const (
	KindCSRFRejected Kind = "csrf_rejected"
	KindRateLimited  Kind = "rate_limited"
	KindAuthFailed   Kind = "auth_failed"
	KindAdminDenied  Kind = "admin_denied"
	KindConfigReload Kind = "config_reload"
	KindAdminAction  Kind = "admin_action"
)

// Kinds returns every event kind.
func Kinds() []Kind {
	return []Kind{
		KindCSRFRejected,
		KindRateLimited,
		KindAuthFailed,
		KindAdminDenied,
		KindConfigReload,
		KindAdminAction,
	}
}

// Event is a single security event.
type Event struct {
	Kind       Kind
	Message    string
	Time       time.Time
	Method     string
	RequestURI string
	ClientIP   string
	UserID     string
	Details    map[string]string
}

// NewRequestEvent creates an event describing r.
func NewRequestEvent(kind Kind, r *http.Request, message string) *Event {
	event := &Event{
		Kind:       kind,
		Message:    message,
		Method:     r.Method,
		RequestURI: r.RequestURI,
		ClientIP:   util.ClientIPFromContext(r.Context()),
	}
	if event.RequestURI == "" {
		event.RequestURI = r.URL.RequestURI()
	}
	if event.ClientIP == "" {
		event.ClientIP = util.StripPort(r.RemoteAddr)
	}
	if id := util.IdentityFromContext(r.Context()); id != nil {
		event.UserID = id.UserID
	}
	return event
}

// WithDetail adds a detail field and returns the event.
func (e *Event) WithDetail(key, value string) *Event {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}
