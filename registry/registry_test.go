package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vahti/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func proposal(id, target string, confidence float64) *types.ActionProposal {
	return &types.ActionProposal{
		ID:         id,
		ActionType: types.ActionIsolateHost,
		Target:     target,
		Confidence: confidence,
		Evidence:   []string{"alert-" + id},
		Reason:     "correlated activity",
		CreatedBy:  "correlator",
		CreatedAt:  time.Now(),
		Status:     types.StatusPending,
	}
}

func TestInsertAndGet(t *testing.T) {
	s := openStore(t)

	_, err := s.InsertOrSupersede(proposal("prop-1", "10.0.0.5", 0.8))
	require.NoError(t, err)

	got, err := s.Get("prop-1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", got.Target)
	assert.Equal(t, types.StatusPending, got.Status)

	_, err = s.Get("prop-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActiveByTarget(t *testing.T) {
	s := openStore(t)

	_, err := s.InsertOrSupersede(proposal("prop-1", "10.0.0.5", 0.8))
	require.NoError(t, err)

	active, found, err := s.ActiveByTarget("10.0.0.5")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "prop-1", active.ID)

	_, found, err = s.ActiveByTarget("10.0.0.6")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDuplicateAttachesEvidence(t *testing.T) {
	s := openStore(t)

	_, err := s.InsertOrSupersede(proposal("prop-1", "10.0.0.5", 0.8))
	require.NoError(t, err)

	dup := proposal("prop-2", "10.0.0.5", 0.75)
	dup.Evidence = []string{"alert-prop-1", "alert-new"}

	_, err = s.InsertOrSupersede(dup)

	var dupErr *types.DuplicateTargetError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "prop-1", dupErr.ActiveProposalID)

	incumbent, err := s.Get("prop-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alert-prop-1", "alert-new"}, incumbent.Evidence)

	// The losing proposal was never persisted.
	_, err = s.Get("prop-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHigherConfidenceSupersedes(t *testing.T) {
	s := openStore(t)

	_, err := s.InsertOrSupersede(proposal("prop-1", "10.0.0.5", 0.75))
	require.NoError(t, err)

	result, err := s.InsertOrSupersede(proposal("prop-2", "10.0.0.5", 0.95))
	require.NoError(t, err)
	assert.Equal(t, "prop-1", result.SupersededID)

	old, err := s.Get("prop-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, old.Status)
	assert.Equal(t, "system:merge", old.DecidedBy)
	assert.Contains(t, old.DecisionReason, "prop-2")

	active, found, err := s.ActiveByTarget("10.0.0.5")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "prop-2", active.ID)
}

func TestExecutingIncumbentIsNeverSuperseded(t *testing.T) {
	s := openStore(t)

	_, err := s.InsertOrSupersede(proposal("prop-1", "10.0.0.5", 0.75))
	require.NoError(t, err)
	_, err = s.Transition("prop-1", types.StatusPending, types.StatusApproved, nil)
	require.NoError(t, err)
	_, err = s.Transition("prop-1", types.StatusApproved, types.StatusExecuting, nil)
	require.NoError(t, err)

	_, err = s.InsertOrSupersede(proposal("prop-2", "10.0.0.5", 0.99))

	var dupErr *types.DuplicateTargetError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "prop-1", dupErr.ActiveProposalID)
}

func TestTransitionCAS(t *testing.T) {
	s := openStore(t)

	_, err := s.InsertOrSupersede(proposal("prop-1", "10.0.0.5", 0.8))
	require.NoError(t, err)

	updated, err := s.Transition("prop-1", types.StatusPending, types.StatusApproved, func(p *types.ActionProposal) {
		p.DecidedBy = "analyst@corp"
		p.DecidedAt = time.Now()
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusApproved, updated.Status)
	assert.Equal(t, "analyst@corp", updated.DecidedBy)

	// Second approve loses: status no longer pending.
	_, err = s.Transition("prop-1", types.StatusPending, types.StatusApproved, nil)
	var invErr *types.InvalidTransitionError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, types.StatusApproved, invErr.Current)
}

func TestTransitionIllegalEdge(t *testing.T) {
	s := openStore(t)

	_, err := s.InsertOrSupersede(proposal("prop-1", "10.0.0.5", 0.8))
	require.NoError(t, err)

	// pending -> executing skips approval and is not a legal edge.
	_, err = s.Transition("prop-1", types.StatusPending, types.StatusExecuting, nil)
	var invErr *types.InvalidTransitionError
	assert.ErrorAs(t, err, &invErr)
}

func TestTerminalProposalFreesTarget(t *testing.T) {
	s := openStore(t)

	_, err := s.InsertOrSupersede(proposal("prop-1", "10.0.0.5", 0.8))
	require.NoError(t, err)

	_, err = s.Transition("prop-1", types.StatusPending, types.StatusRejected, nil)
	require.NoError(t, err)

	// Target slot is free again.
	_, err = s.InsertOrSupersede(proposal("prop-2", "10.0.0.5", 0.7))
	require.NoError(t, err)

	// The rejected proposal is retained for audit.
	old, err := s.Get("prop-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, old.Status)
}

func TestActiveCount(t *testing.T) {
	s := openStore(t)
	assert.Equal(t, 0, s.ActiveCount())

	_, err := s.InsertOrSupersede(proposal("prop-1", "10.0.0.5", 0.8))
	require.NoError(t, err)
	_, err = s.InsertOrSupersede(proposal("prop-2", "10.0.0.6", 0.8))
	require.NoError(t, err)
	assert.Equal(t, 2, s.ActiveCount())

	_, err = s.Transition("prop-1", types.StatusPending, types.StatusRejected, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.ActiveCount())
}

func TestConcurrentApprovesExactlyOneWinner(t *testing.T) {
	s := openStore(t)

	_, err := s.InsertOrSupersede(proposal("prop-1", "10.0.0.5", 0.8))
	require.NoError(t, err)

	const approvers = 16
	var wg sync.WaitGroup
	wins := make(chan string, approvers)

	for i := 0; i < approvers; i++ {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			_, err := s.Transition("prop-1", types.StatusPending, types.StatusApproved, func(p *types.ActionProposal) {
				p.DecidedBy = actor
			})
			if err == nil {
				wins <- actor
				return
			}
			var invErr *types.InvalidTransitionError
			if !errors.As(err, &invErr) {
				t.Errorf("loser got %T, want InvalidTransitionError", err)
			}
		}(fmt.Sprintf("analyst-%d", i))
	}

	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)

	got, err := s.Get("prop-1")
	require.NoError(t, err)
	assert.Equal(t, winners[0], got.DecidedBy)
}

func TestConcurrentInsertsOneActivePerTarget(t *testing.T) {
	s := openStore(t)

	const writers = 12
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Same confidence everywhere so nobody supersedes.
			_, _ = s.InsertOrSupersede(proposal(fmt.Sprintf("prop-%d", i), "10.0.0.5", 0.8))
		}(i)
	}
	wg.Wait()

	actives, err := s.List(Filter{Target: "10.0.0.5"})
	require.NoError(t, err)

	activeCount := 0
	for _, p := range actives {
		if p.Active() {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)
}

func TestActiveIndexRebuiltOnReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	_, err = s.InsertOrSupersede(proposal("prop-1", "10.0.0.5", 0.8))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	active, found, err := s2.ActiveByTarget("10.0.0.5")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "prop-1", active.ID)
}

func TestEngineConfigReadAfterWrite(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)

	assert.Equal(t, types.DefaultEngineConfig(), s.EngineConfig())

	cfg := s.EngineConfig()
	cfg.ForceManualApproval = true
	require.NoError(t, s.SetEngineConfig(cfg))
	assert.True(t, s.EngineConfig().ForceManualApproval)

	// Survives reopen.
	require.NoError(t, s.Close())
	s2, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()
	assert.True(t, s2.EngineConfig().ForceManualApproval)
}

func TestSeedEngineConfig(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	seed := types.EngineConfig{AutoApproveThreshold: 0.95, ReviewThreshold: 0.60}
	require.NoError(t, s.SeedEngineConfig(seed))
	assert.Equal(t, seed, s.EngineConfig())

	// A second seed never overrides a stored config.
	other := types.EngineConfig{AutoApproveThreshold: 0.80, ReviewThreshold: 0.40}
	require.NoError(t, s.SeedEngineConfig(other))
	assert.Equal(t, seed, s.EngineConfig())

	// Neither does it override an operator-set config.
	set := seed
	set.ForceManualApproval = true
	require.NoError(t, s.SetEngineConfig(set))
	require.NoError(t, s.SeedEngineConfig(other))
	assert.Equal(t, set, s.EngineConfig())
}
