package credentials

import (
	"context"
	"fmt"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// JoinClaims is the credential payload. One token authorizes one identity to
// open one transport connection to one room.
type JoinClaims struct {
	Room     string `json:"room"`
	Identity string `json:"identity"`
	Role     string `json:"role"`
	Metadata string `json:"metadata,omitempty"`
	jwt.RegisteredClaims
}

// JWTCredentialService mints short-lived join credentials signed with a
// shared secret. The transport URL is fixed per deployment.
type JWTCredentialService struct {
	secret       []byte
	transportURL string
	ttl          time.Duration
	logger       *zap.SugaredLogger
}

func NewJWTCredentialService(secret, transportURL string, ttl time.Duration, logger *zap.SugaredLogger) *JWTCredentialService {
	return &JWTCredentialService{
		secret:       []byte(secret),
		transportURL: transportURL,
		ttl:          ttl,
		logger:       logger,
	}
}

var _ ports.CredentialService = (*JWTCredentialService)(nil)

func (s *JWTCredentialService) RequestJoinCredential(ctx context.Context, room domain.RoomName, identity string, role domain.Role, meta domain.ParticipantMetadata) (*domain.JoinCredential, error) {
	now := time.Now()
	expiresAt := now.Add(s.ttl)

	claims := JoinClaims{
		Room:     string(room),
		Identity: identity,
		Role:     string(role),
		Metadata: domain.EncodeMetadata(meta),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "spacecast",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign credential: %w", err)
	}

	s.logger.Debugw("minted join credential",
		"room", room, "identity", identity, "role", role, "expires_at", expiresAt)

	return &domain.JoinCredential{
		Token:        signed,
		TransportURL: s.transportURL,
		ExpiresAt:    expiresAt,
	}, nil
}

// ValidateToken parses and verifies a join credential.
func (s *JWTCredentialService) ValidateToken(tokenString string) (*JoinClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JoinClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid credential: %w", err)
	}

	claims, ok := token.Claims.(*JoinClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid credential claims")
	}
	return claims, nil
}
