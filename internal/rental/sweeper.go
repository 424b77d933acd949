package rental

import (
	"context"
	"errors"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-computing-market/internal/models"
)

// Sweep completes, as the authority, every active rental whose duration has
// run out. It returns how many were completed.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	active, err := s.ListActive()
	if err != nil {
		return 0, err
	}
	now := s.clock.Now().Unix()
	var done int
	for _, r := range active {
		if now < r.ExpiresAt() {
			continue
		}
		if _, err := s.Complete(ctx, r.RentalId, s.authority); err != nil {
			// someone else ended it in between
			if errors.Is(err, models.ErrAlreadySettled) {
				continue
			}
			logs.GetLogger().Errorf("Failed complete expired rental %s, error: %+v", r.RentalId, err)
			continue
		}
		done++
	}
	return done, nil
}

// WatchExpired sweeps on every tick of interval until ctx is done.
func (s *Service) WatchExpired(ctx context.Context, interval time.Duration) {
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			func() {
				defer func() {
					if err := recover(); err != nil {
						logs.GetLogger().Errorf("catch panic error: %+v", err)
					}
				}()
				n, err := s.Sweep(ctx)
				if err != nil {
					logs.GetLogger().Errorf("Failed sweep expired rentals, error: %+v", err)
					return
				}
				if n > 0 {
					logs.GetLogger().Infof("completed %d expired rentals", n)
				}
			}()
		case <-ctx.Done():
			return
		}
	}
}
