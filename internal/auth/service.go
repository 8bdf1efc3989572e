package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EternisAI/fleetwatch/internal/clock"
)

var (
	ErrInvalidRole    = errors.New("invalid role")
	ErrMissingSubject = errors.New("token subject is required")
)

const (
	DefaultTokenTTL = 12 * time.Hour
	maxTokenTTL     = 7 * 24 * time.Hour
)

type Token struct {
	Value     string
	Subject   string
	Role      string
	ExpiresAt time.Time
}

// Service mints dashboard tokens. Callers are authenticated upstream with the
// admin API key, so there are no user accounts behind a token.
type Service struct {
	config JWTConfig
	clock  clock.Clock
}

func NewService(config JWTConfig, clk clock.Clock) *Service {
	if config.TTL <= 0 {
		config.TTL = DefaultTokenTTL
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Service{
		config: config,
		clock:  clk,
	}
}

func (s *Service) Enabled() bool { return s.config.Secret != "" }

// Issue signs a token for subject. An empty role means viewer; ttl of zero
// uses the configured default.
func (s *Service) Issue(subject, role string, ttl time.Duration) (Token, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Token{}, ErrMissingSubject
	}
	if role == "" {
		role = RoleViewer
	}
	if role != RoleViewer && role != RoleAdmin {
		return Token{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	cfg := s.config
	if ttl > 0 {
		cfg.TTL = min(ttl, maxTokenTTL)
	}
	value, expiresAt, err := GenerateToken(cfg, subject, role, s.clock.Now())
	if err != nil {
		return Token{}, fmt.Errorf("generate token: %w", err)
	}
	return Token{
		Value:     value,
		Subject:   subject,
		Role:      role,
		ExpiresAt: expiresAt,
	}, nil
}

// Validate checks a token against the service's secret and clock.
func (s *Service) Validate(token string) (*Claims, error) {
	return validateAt(s.config.Secret, token, s.clock.Now)
}
