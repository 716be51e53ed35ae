package gateway

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the identity embedded in the gateway-issued bearer token. The
// token is parsed without signature verification: verifying is the
// gateway's job, the client only needs the claims to know who it is.
type Session struct {
	AgentID   string
	ExpiresAt time.Time
}

// ParseSession extracts the agent identity from a session token.
func ParseSession(token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, fmt.Errorf("session token is required")
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return Session{}, fmt.Errorf("parse session token: %w", err)
	}

	session := Session{}
	if sub, err := claims.GetSubject(); err == nil {
		session.AgentID = sub
	}
	if session.AgentID == "" {
		if id, ok := claims["agentId"].(string); ok {
			session.AgentID = id
		}
	}
	if session.AgentID == "" {
		return Session{}, fmt.Errorf("session token has no agent identity")
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		session.ExpiresAt = exp.Time
	}
	return session, nil
}

// Expired reports whether the session token is past its expiry at now.
// Tokens without an exp claim never expire locally.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// WarnIfExpiring logs when the token is within window of its expiry.
func (s Session) WarnIfExpiring(log *slog.Logger, window time.Duration, now time.Time) {
	if log == nil || s.ExpiresAt.IsZero() {
		return
	}
	remaining := s.ExpiresAt.Sub(now)
	if remaining > window {
		return
	}
	log.Warn("session token close to expiry",
		slog.String("agent_id", s.AgentID),
		slog.Duration("remaining", remaining),
	)
}
