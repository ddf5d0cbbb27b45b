package dispatch

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"scan-dispatcher/internal/logger"
	"scan-dispatcher/internal/models"
	"scan-dispatcher/internal/telemetry"
)

// Gate authenticates agents.
type Gate struct {
	creds Credentials
}

func NewGate(creds Credentials) *Gate {
	return &Gate{creds: creds}
}

// Authenticate resolves token to an agent. Missing and unknown tokens yield
// ErrUnauthorized and a warning carrying the offending token.
func (g *Gate) Authenticate(ctx context.Context, token string) (models.AgentID, error) {
	if token == "" {
		return 0, g.reject(token)
	}
	agent, ok, err := g.creds.Authorize(ctx, token)
	if err != nil {
		return 0, fmt.Errorf("authorize: %w", err)
	}
	if !ok {
		return 0, g.reject(token)
	}
	return agent, nil
}

func (g *Gate) reject(token string) error {
	telemetry.Unauthorized.Inc()
	logger.WithFields(logrus.Fields{"token": token}).Warn("rejected agent request with invalid token")
	return ErrUnauthorized
}
