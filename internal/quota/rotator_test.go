package quota

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardops/internal/apperr"
)

type fakeCounters struct {
	remaining map[string]int
}

func (f *fakeCounters) InitQuota(_ context.Context, keyName string, remaining int) error {
	if _, ok := f.remaining[keyName]; !ok {
		f.remaining[keyName] = remaining
	}
	return nil
}

func (f *fakeCounters) GetQuotaRemaining(_ context.Context) (map[string]int, error) {
	out := make(map[string]int, len(f.remaining))
	for k, v := range f.remaining {
		out[k] = v
	}
	return out, nil
}

func (f *fakeCounters) ConsumeQuota(_ context.Context, keyName string) (bool, error) {
	if f.remaining[keyName] <= 0 {
		return false, nil
	}
	f.remaining[keyName]--
	return true, nil
}

func newTestRotator(t *testing.T, counters map[string]int) *Rotator {
	t.Helper()
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	r, err := NewRotator(context.Background(), &fakeCounters{remaining: counters}, names, 100)
	require.NoError(t, err)
	return r
}

func TestAcquireKeyPrefersMostRemaining(t *testing.T) {
	t.Setenv("PSA_TOKEN_ALPHA", "secret-a")
	t.Setenv("PSA_TOKEN_BETA", "secret-b")

	r := newTestRotator(t, map[string]int{"alpha": 3, "beta": 90})

	key, err := r.AcquireKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "beta", key.Name)
	assert.Equal(t, "secret-b", key.Secret)
}

func TestAcquireKeySkipsUnresolvableSecret(t *testing.T) {
	t.Setenv("PSA_TOKEN_ALPHA", "secret-a")
	// beta has more calls left but no secret in the environment.

	r := newTestRotator(t, map[string]int{"alpha": 3, "beta": 90})

	key, err := r.AcquireKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alpha", key.Name)
}

func TestAcquireKeyAllExhausted(t *testing.T) {
	t.Setenv("PSA_TOKEN_ALPHA", "secret-a")
	t.Setenv("PSA_TOKEN_BETA", "secret-b")

	r := newTestRotator(t, map[string]int{"alpha": 0, "beta": 0})

	_, err := r.AcquireKey(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindQuotaExceeded))
}

func TestConsumeStopsAtZero(t *testing.T) {
	r := newTestRotator(t, map[string]int{"alpha": 1})

	require.NoError(t, r.Consume(context.Background(), "alpha"))

	err := r.Consume(context.Background(), "alpha")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindQuotaExceeded))
}
