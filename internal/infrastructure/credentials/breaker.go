package credentials

import (
	"context"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"
	"spacecast/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// BreakerCredentialService wraps a credential service with a circuit breaker
// so a failing backend trips fast instead of stacking timeouts behind every
// join attempt. An open circuit maps to the retryable unavailable error.
type BreakerCredentialService struct {
	inner   ports.CredentialService
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func NewBreakerCredentialService(
	inner ports.CredentialService,
	cfg circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *BreakerCredentialService {
	s := &BreakerCredentialService{
		inner:   inner,
		breaker: circuitbreaker.New(cfg),
		logger:  logger,
	}

	s.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("credential circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return s
}

var _ ports.CredentialService = (*BreakerCredentialService)(nil)

func (s *BreakerCredentialService) RequestJoinCredential(ctx context.Context, room domain.RoomName, identity string, role domain.Role, meta domain.ParticipantMetadata) (*domain.JoinCredential, error) {
	var cred *domain.JoinCredential
	err := s.breaker.Execute(ctx, func() error {
		var innerErr error
		cred, innerErr = s.inner.RequestJoinCredential(ctx, room, identity, role, meta)
		return innerErr
	})
	if err == circuitbreaker.ErrCircuitOpen {
		return nil, domain.ErrCredentialUnavailable
	}
	if err != nil {
		return nil, err
	}
	return cred, nil
}
