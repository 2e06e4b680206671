package logging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deleteCall struct {
	service string
	level   string
	cutoff  time.Time
}

type fakePolicyStore struct {
	policies        []Policy
	calls           []deleteCall
	unpoliciedCalls []time.Time
}

func (f *fakePolicyStore) ListRetentionPolicies(ctx context.Context) ([]Policy, error) {
	return f.policies, nil
}

func (f *fakePolicyStore) DeleteLogsBefore(ctx context.Context, service, level string, cutoff time.Time) (int64, error) {
	f.calls = append(f.calls, deleteCall{service, level, cutoff})
	return 1, nil
}

func (f *fakePolicyStore) DeleteUnpoliciedLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.unpoliciedCalls = append(f.unpoliciedCalls, cutoff)
	return 1, nil
}

func TestSweepAppliesEachPolicy(t *testing.T) {
	store := &fakePolicyStore{
		policies: []Policy{
			{Service: "ALL", Level: "error", RetentionDays: 90},
			{Service: "ALL", Level: "warn", RetentionDays: 60},
			{Service: "api", Level: "debug", RetentionDays: 7},
		},
	}
	s := NewSweeper(store, 30)

	s.Sweep(context.Background())

	require.Len(t, store.calls, 3)

	// "ALL" service collapses to the any-service selector.
	assert.Equal(t, "", store.calls[0].service)
	assert.Equal(t, "error", store.calls[0].level)
	assert.Equal(t, "api", store.calls[2].service)

	// Cutoffs reflect each policy's window.
	now := time.Now().UTC()
	assert.WithinDuration(t, now.AddDate(0, 0, -90), store.calls[0].cutoff, time.Minute)
	assert.WithinDuration(t, now.AddDate(0, 0, -7), store.calls[2].cutoff, time.Minute)

	// The default pass only touches unpolicied rows.
	require.Len(t, store.unpoliciedCalls, 1)
	assert.WithinDuration(t, now.AddDate(0, 0, -30), store.unpoliciedCalls[0], time.Minute)
}

func TestSweepSkipsNonPositivePolicies(t *testing.T) {
	store := &fakePolicyStore{
		policies: []Policy{{Service: "api", Level: "info", RetentionDays: 0}},
	}
	s := NewSweeper(store, 30)

	s.Sweep(context.Background())

	assert.Empty(t, store.calls)
	assert.Len(t, store.unpoliciedCalls, 1)
}
