package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/jvledger/internal/accounting/shared"
)

type Service struct {
	repo   Repository
	cache  *Cache
	logger *slog.Logger
	group  singleflight.Group
}

func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

func (s *Service) List(ctx context.Context) ([]Account, error) {
	return s.repo.List(ctx)
}

// Get returns one account, going through the cache. Concurrent misses for the
// same id share a single repository call.
func (s *Service) Get(ctx context.Context, id int64) (Account, error) {
	if id <= 0 {
		return Account{}, shared.ErrAccountNotFound
	}
	v, err, _ := s.group.Do(keyAccount(id), func() (any, error) {
		key, err := s.cache.BuildKey(ctx, keyAccount(id))
		if err != nil {
			s.logger.Warn("account cache key", slog.Int64("account_id", id), slog.Any("error", err))
			return s.repo.FindByID(ctx, id)
		}
		var acc Account
		err = s.cache.FetchJSON(ctx, key, &acc, func(ctx context.Context) (any, error) {
			return s.repo.FindByID(ctx, id)
		})
		if errors.Is(err, ErrCacheWrite) {
			s.logger.Warn("account cache write", slog.Int64("account_id", id), slog.Any("error", err))
			err = nil
		}
		if err != nil {
			return Account{}, err
		}
		return acc, nil
	})
	if err != nil {
		return Account{}, err
	}
	return v.(Account), nil
}

// Lookup resolves the given ids. Unknown ids are absent from the result.
func (s *Service) Lookup(ctx context.Context, ids []int64) (map[int64]Account, error) {
	out := make(map[int64]Account, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		acc, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, shared.ErrAccountNotFound) {
				continue
			}
			return nil, fmt.Errorf("accounts: lookup %d: %w", id, err)
		}
		out[id] = acc
	}
	return out, nil
}

// Upsert writes the accounts keyed by code and invalidates the cache.
func (s *Service) Upsert(ctx context.Context, in []Account) ([]Account, error) {
	out := make([]Account, 0, len(in))
	for _, acc := range in {
		if acc.Code == "" || acc.Name == "" {
			return nil, fmt.Errorf("accounts: code and name required")
		}
		if !acc.Type.Valid() {
			return nil, fmt.Errorf("accounts: unknown type %q for %s", acc.Type, acc.Code)
		}
		saved, err := s.repo.Upsert(ctx, acc)
		if err != nil {
			return nil, fmt.Errorf("accounts: upsert %s: %w", acc.Code, err)
		}
		out = append(out, saved)
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("account cache bump", slog.Any("error", err))
	}
	return out, nil
}
