// Package quota picks which provider API key to use for the next call and
// tracks each key's remaining daily allowance in Redis. Counters are reset
// by the provider's daily cycle, outside this process.
package quota

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"cardops/internal/apperr"
	"cardops/internal/util"

	"go.uber.org/zap"
)

// Key is a usable credential for the certification provider.
type Key struct {
	Name   string
	Secret string
}

// CounterStore holds the per-key remaining counters. The Redis client
// implements it; tests supply a map-backed fake.
type CounterStore interface {
	InitQuota(ctx context.Context, keyName string, remaining int) error
	GetQuotaRemaining(ctx context.Context) (map[string]int, error)
	ConsumeQuota(ctx context.Context, keyName string) (bool, error)
}

// Rotator selects keys by remaining allowance, highest first.
type Rotator struct {
	redis    CounterStore
	keyNames []string
	logger   *zap.Logger
}

// NewRotator creates a rotator over the configured key names and seeds any
// missing counters with the daily quota.
func NewRotator(ctx context.Context, rc CounterStore, keyNames []string, dailyQuota int) (*Rotator, error) {
	r := &Rotator{
		redis:    rc,
		keyNames: keyNames,
		logger:   util.GetLogger(),
	}

	for _, name := range keyNames {
		if err := rc.InitQuota(ctx, name, dailyQuota); err != nil {
			return nil, fmt.Errorf("failed to seed quota for %s: %w", name, err)
		}
	}
	return r, nil
}

// AcquireKey returns the key with the most remaining calls whose secret is
// resolvable from the environment. Returns a quota-exhausted error when no
// key has calls left.
func (r *Rotator) AcquireKey(ctx context.Context) (*Key, error) {
	remaining, err := r.redis.GetQuotaRemaining(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read quota counters: %w", err)
	}

	names := append([]string(nil), r.keyNames...)
	sort.SliceStable(names, func(i, j int) bool {
		return remaining[names[i]] > remaining[names[j]]
	})

	for _, name := range names {
		if remaining[name] <= 0 {
			continue
		}
		secret := resolveSecret(name)
		if secret == "" {
			r.logger.Warn("Quota key has no resolvable secret", zap.String("key", name))
			continue
		}
		return &Key{Name: name, Secret: secret}, nil
	}

	util.QuotaExhaustedTotal.Inc()
	return nil, apperr.Newf(apperr.KindQuotaExceeded, "quota.AcquireKey",
		"all %d provider keys exhausted for today", len(r.keyNames))
}

// Consume spends one call on the named key. Atomic decrement-if-positive, so
// concurrent consumers cannot drive the counter below zero.
func (r *Rotator) Consume(ctx context.Context, name string) error {
	ok, err := r.redis.ConsumeQuota(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to consume quota for %s: %w", name, err)
	}
	if !ok {
		return apperr.Newf(apperr.KindQuotaExceeded, "quota.Consume", "key %s exhausted", name)
	}
	util.QuotaCallsConsumedTotal.WithLabelValues(name).Inc()
	return nil
}

// Remaining reports the counters for the admin dashboard.
func (r *Rotator) Remaining(ctx context.Context) (map[string]int, error) {
	return r.redis.GetQuotaRemaining(ctx)
}

func resolveSecret(keyName string) string {
	envKey := "PSA_TOKEN_" + strings.ToUpper(strings.ReplaceAll(keyName, "-", "_"))
	return os.Getenv(envKey)
}
