package campaign

import (
	"time"

	"campaign-delivery/internal/messaging"
	"campaign-delivery/internal/model"
	"campaign-delivery/internal/notifier"
	"campaign-delivery/internal/redisx"
	"campaign-delivery/internal/storage"
)

type Service struct {
	store      storage.Store
	broker     messaging.Broker
	locker     redisx.Locker
	notes      notifier.Notifier
	cooldown   time.Duration
	claimLease time.Duration
	now        func() time.Time
}

func NewService(store storage.Store, broker messaging.Broker, locker redisx.Locker, cooldown time.Duration) *Service {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Service{
		store:      store,
		broker:     broker,
		locker:     locker,
		notes:      notifier.Nop{},
		cooldown:   cooldown,
		claimLease: model.DefaultClaimLease,
		now:        time.Now,
	}
}

// WithNotifier reports resends and requeued messages to n once committed.
func (s *Service) WithNotifier(n notifier.Notifier) *Service {
	s.notes = n
	return s
}

// WithClaimLease sets how long a message may stay in processing before
// RetryFailed treats it as abandoned. Zero or less leaves processing alone.
func (s *Service) WithClaimLease(d time.Duration) *Service {
	s.claimLease = d
	return s
}
