// Package csrf implements a per-session anti-forgery token guard.
//
// State-changing requests (anything but GET, HEAD and OPTIONS) must carry
// the session's token in the X-CSRF-Token header, the _csrf_token form
// field or the _csrf_token query parameter. Tokens are 32 random bytes,
// hex encoded, and live for one hour; a missing or expired token is
// replaced on the next state-changing request. Two concurrent requests of
// one session may both replace an expired token; the last write wins and
// the loser's request is rejected once, which is accepted.
package csrf
