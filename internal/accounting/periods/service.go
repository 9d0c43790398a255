package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/jvledger/internal/accounting/shared"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// AssertNotLocked fails with *shared.PeriodLockedError when the (year, month)
// of date is closed. It only reads.
func (s *Service) AssertNotLocked(ctx context.Context, date time.Time) error {
	year, month := date.Year(), date.Month()
	locked, err := s.repo.IsLocked(ctx, year, month)
	if err != nil {
		return fmt.Errorf("periods: check lock: %w", err)
	}
	if locked {
		return &shared.PeriodLockedError{Year: year, Month: month}
	}
	return nil
}

// Lock closes a (year, month).
func (s *Service) Lock(ctx context.Context, in PeriodLock) (PeriodLock, error) {
	if in.Year < 1900 || in.Year > 9999 {
		return PeriodLock{}, errors.New("periods: year out of range")
	}
	if in.Month < time.January || in.Month > time.December {
		return PeriodLock{}, errors.New("periods: month must be between 1 and 12")
	}
	return s.repo.Lock(ctx, in)
}

func (s *Service) List(ctx context.Context) ([]PeriodLock, error) {
	return s.repo.List(ctx)
}
