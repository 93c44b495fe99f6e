package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"time"

	"github.com/vyrodovalexey/govgate/internal/session"
)

// Token constants.
const (
	SessionKey  = "csrf_token"
	FieldName   = "_csrf_token"
	HeaderName  = "X-CSRF-Token"
	tokenBytes  = 32
	DefaultTTL  = time.Hour
	metaTagName = "csrf-token"
)

// SessionStore is the per-session key/value store the guard keeps its
// token in. *session.Session satisfies it.
type SessionStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// record is the stored token.
type record struct {
	Token   string `json:"token"`
	Expires int64  `json:"expires"`
}

func (r record) valid(now time.Time) bool {
	return r.Token != "" && r.Expires > now.Unix()
}

// load returns the stored token, ok=false when there is none or it does
// not decode. Store failures are returned as errors.
func load(ctx context.Context, sess SessionStore) (record, bool, error) {
	raw, err := sess.Get(ctx, SessionKey)
	if errors.Is(err, session.ErrNotFound) {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, fmt.Errorf("failed to read csrf token: %w", err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return record{}, false, nil
	}
	return rec, true, nil
}

func generate(random io.Reader) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(random, buf); err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func equal(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// current returns the valid token of sess, issuing one when the stored
// token is absent or expired.
func (g *Guard) current(ctx context.Context, sess SessionStore) (string, error) {
	now := g.now()

	rec, ok, err := load(ctx, sess)
	if err != nil {
		return "", err
	}
	if ok && rec.valid(now) {
		return rec.Token, nil
	}
	return g.issue(ctx, sess, now)
}

func (g *Guard) issue(ctx context.Context, sess SessionStore, now time.Time) (string, error) {
	token, err := generate(g.random)
	if err != nil {
		return "", err
	}

	raw, err := json.Marshal(record{Token: token, Expires: now.Add(g.ttl).Unix()})
	if err != nil {
		return "", err
	}
	if err := sess.Set(ctx, SessionKey, raw); err != nil {
		return "", fmt.Errorf("failed to store csrf token: %w", err)
	}

	g.metrics.tokensIssued.Inc()
	return token, nil
}

// Token returns the session's token, issuing one if needed.
func (g *Guard) Token(ctx context.Context, sess SessionStore) (string, error) {
	return g.current(ctx, sess)
}

// HiddenInput renders a hidden form field carrying the session's token.
func (g *Guard) HiddenInput(ctx context.Context, sess SessionStore) (string, error) {
	token, err := g.current(ctx, sess)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`<input type="hidden" name="%s" value="%s">`, FieldName, html.EscapeString(token)), nil
}

// MetaTag renders a meta tag carrying the session's token for scripts.
func (g *Guard) MetaTag(ctx context.Context, sess SessionStore) (string, error) {
	token, err := g.current(ctx, sess)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`<meta name="%s" content="%s">`, metaTagName, html.EscapeString(token)), nil
}

// Validate reports whether candidate equals the session's unexpired token.
// It never issues a token.
func (g *Guard) Validate(ctx context.Context, sess SessionStore, candidate string) (bool, error) {
	rec, ok, err := load(ctx, sess)
	if err != nil {
		return false, err
	}
	if !ok || !rec.valid(g.now()) {
		return false, nil
	}
	return equal(rec.Token, candidate), nil
}

// defaultRandom is crypto/rand.Reader; tests replace it through WithRandom.
var defaultRandom io.Reader = rand.Reader
