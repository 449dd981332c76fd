package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vahti/types"
)

// mockSource for testing
type mockSource struct {
	name   string
	alerts []types.RawAlert
	err    error
	delay  time.Duration
}

func (m *mockSource) Name() string { return m.name }

func (m *mockSource) FetchAlerts(ctx context.Context, target string) ([]types.RawAlert, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.alerts, nil
}

func TestGatherCollectsAllSources(t *testing.T) {
	gw := New([]EvidenceSource{
		&mockSource{name: "netflow", alerts: []types.RawAlert{{Source: "netflow", Ref: "a1"}}},
		&mockSource{name: "edr", alerts: []types.RawAlert{{Source: "edr", Ref: "a2"}, {Source: "edr", Ref: "a3"}}},
	}, time.Second)

	evidence := gw.Gather(context.Background(), "10.0.0.5")

	assert.Len(t, evidence.Alerts, 3)
	assert.Empty(t, evidence.Failures)
	assert.Equal(t, "10.0.0.5", evidence.Target)
}

func TestGatherFailedSourceDoesNotFailGather(t *testing.T) {
	gw := New([]EvidenceSource{
		&mockSource{name: "netflow", alerts: []types.RawAlert{{Source: "netflow", Ref: "a1"}}},
		&mockSource{name: "siem", err: errors.New("connection refused")},
	}, time.Second)

	evidence := gw.Gather(context.Background(), "10.0.0.5")

	assert.Len(t, evidence.Alerts, 1)
	require.Len(t, evidence.Failures, 1)
	assert.Equal(t, "siem", evidence.Failures[0].Source)
	assert.Contains(t, evidence.Failures[0].Err, "connection refused")
}

func TestGatherSourceTimeoutBecomesFailure(t *testing.T) {
	gw := New([]EvidenceSource{
		&mockSource{name: "slow", delay: 500 * time.Millisecond, alerts: []types.RawAlert{{Ref: "never"}}},
	}, 20*time.Millisecond)

	evidence := gw.Gather(context.Background(), "10.0.0.5")

	assert.Empty(t, evidence.Alerts)
	require.Len(t, evidence.Failures, 1)
	assert.Equal(t, "slow", evidence.Failures[0].Source)
}

func TestGatherHonorsCallerDeadline(t *testing.T) {
	gw := New([]EvidenceSource{
		&mockSource{name: "slow", delay: time.Second, alerts: []types.RawAlert{{Ref: "never"}}},
	}, 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	evidence := gw.Gather(ctx, "10.0.0.5")

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Empty(t, evidence.Alerts)
	assert.Len(t, evidence.Failures, 1)
}

func TestSourceRegistry(t *testing.T) {
	Register("mock", func(config SourceConfig) (EvidenceSource, error) {
		return &mockSource{name: "mock"}, nil
	})

	src, err := NewSource("mock", SourceConfig{})
	require.NoError(t, err)
	assert.Equal(t, "mock", src.Name())

	_, err = NewSource("nonexistent", SourceConfig{})
	assert.Error(t, err)
}
