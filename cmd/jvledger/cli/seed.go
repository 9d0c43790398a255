package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/jvledger/internal/accounting/accounts"
	"github.com/odyssey-erp/jvledger/internal/accounting/periods"
)

// SeedFile is the YAML layout accepted by `jvledger seed`.
type SeedFile struct {
	Accounts    []SeedAccount `yaml:"accounts"`
	PeriodLocks []SeedLock    `yaml:"period_locks"`
}

// SeedAccount describes one chart of accounts header.
type SeedAccount struct {
	Code   string `yaml:"code"`
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Active *bool  `yaml:"active"`
}

// SeedLock closes a month, written as YYYY-MM.
type SeedLock struct {
	Period string `yaml:"period"`
	Note   string `yaml:"note"`
}

// SeedResult reports what was written.
type SeedResult struct {
	Accounts int
	Locks    int
}

type accountWriter interface {
	Upsert(ctx context.Context, in []accounts.Account) ([]accounts.Account, error)
}

type periodLocker interface {
	Lock(ctx context.Context, in periods.PeriodLock) (periods.PeriodLock, error)
}

// LoadSeedFile reads and decodes a seed file from disk.
func LoadSeedFile(path string) (SeedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return SeedFile{}, fmt.Errorf("seed: open %s: %w", path, err)
	}
	defer f.Close()
	return DecodeSeed(f)
}

// DecodeSeed parses the YAML document. Unknown keys are rejected.
func DecodeSeed(r io.Reader) (SeedFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var seed SeedFile
	if err := dec.Decode(&seed); err != nil {
		if errors.Is(err, io.EOF) {
			return SeedFile{}, errors.New("seed: empty document")
		}
		return SeedFile{}, fmt.Errorf("seed: decode: %w", err)
	}
	return seed, nil
}

// AccountRecords converts the YAML rows into account records.
func (s SeedFile) AccountRecords() ([]accounts.Account, error) {
	out := make([]accounts.Account, 0, len(s.Accounts))
	seen := make(map[string]struct{}, len(s.Accounts))
	for i, row := range s.Accounts {
		code := strings.TrimSpace(row.Code)
		if code == "" {
			return nil, fmt.Errorf("seed: account #%d: code required", i+1)
		}
		if _, dup := seen[code]; dup {
			return nil, fmt.Errorf("seed: account code %s listed twice", code)
		}
		seen[code] = struct{}{}
		active := true
		if row.Active != nil {
			active = *row.Active
		}
		out = append(out, accounts.Account{
			Code:   code,
			Name:   strings.TrimSpace(row.Name),
			Type:   accounts.AccountType(strings.ToLower(strings.TrimSpace(row.Type))),
			Active: active,
		})
	}
	return out, nil
}

// LockRecords converts the YAML rows into period locks.
func (s SeedFile) LockRecords() ([]periods.PeriodLock, error) {
	out := make([]periods.PeriodLock, 0, len(s.PeriodLocks))
	for i, row := range s.PeriodLocks {
		month, err := time.Parse("2006-01", strings.TrimSpace(row.Period))
		if err != nil {
			return nil, fmt.Errorf("seed: period lock #%d: want YYYY-MM, got %q", i+1, row.Period)
		}
		out = append(out, periods.PeriodLock{Year: month.Year(), Month: month.Month(), Note: row.Note})
	}
	return out, nil
}

// ApplySeed writes accounts first, then period locks. It is safe to rerun:
// accounts upsert by code and locks keep their first note.
func ApplySeed(ctx context.Context, seed SeedFile, accountSvc accountWriter, periodSvc periodLocker) (SeedResult, error) {
	records, err := seed.AccountRecords()
	if err != nil {
		return SeedResult{}, err
	}
	locks, err := seed.LockRecords()
	if err != nil {
		return SeedResult{}, err
	}
	var result SeedResult
	if len(records) > 0 {
		saved, err := accountSvc.Upsert(ctx, records)
		if err != nil {
			return result, err
		}
		result.Accounts = len(saved)
	}
	for _, lock := range locks {
		if _, err := periodSvc.Lock(ctx, lock); err != nil {
			return result, fmt.Errorf("seed: lock %s: %w", lock.Key(), err)
		}
		result.Locks++
	}
	return result, nil
}
