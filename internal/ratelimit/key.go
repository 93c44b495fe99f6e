package ratelimit

import (
	"net/http"

	"github.com/vyrodovalexey/govgate/internal/session"
	"github.com/vyrodovalexey/govgate/internal/util"
)

// SessionUserKey is the session key holding the authenticated user ID.
const SessionUserKey = "user_id"

// KeyFunc derives the client key of a request.
type KeyFunc func(r *http.Request) string

// ClientKey returns ip, or ip:userID when userID is set.
func ClientKey(ip, userID string) string {
	if userID == "" {
		return ip
	}
	return ip + ":" + userID
}

// RequestClientKey keys r by the client IP resolved by the client_ip
// stage, falling back to the peer address, and by the user ID from the
// auth stage or the session.
func RequestClientKey(r *http.Request) string {
	ctx := r.Context()

	ip := util.ClientIPFromContext(ctx)
	if ip == "" {
		ip = util.StripPort(r.RemoteAddr)
	}

	userID := ""
	if id := util.IdentityFromContext(ctx); id != nil {
		userID = id.UserID
	}
	if userID == "" {
		if sess := session.FromContext(ctx); sess != nil {
			if v, err := sess.Get(ctx, SessionUserKey); err == nil {
				userID = string(v)
			}
		}
	}

	return ClientKey(ip, userID)
}
