package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vahti/types"
)

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = log.Close() }()

	for i := 0; i < 5; i++ {
		err := log.Append(Entry{
			Event:      EventTransition,
			Actor:      "executor",
			ProposalID: "prop-1",
			FromStatus: types.StatusApproved,
			ToStatus:   types.StatusExecuting,
		})
		require.NoError(t, err)
	}

	var sequences []int64
	err = Replay(dir, time.Time{}, func(e *Entry) error {
		sequences = append(sequences, e.Sequence)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, sequences, 5)
	for i, seq := range sequences {
		assert.Equal(t, int64(i+1), seq)
	}
}

func TestSequenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, log.Append(Entry{Event: EventProposalCreated, Actor: "engine", ProposalID: "prop-1"}))
	require.NoError(t, log.Append(Entry{Event: EventTransition, Actor: "engine", ProposalID: "prop-1"}))
	require.NoError(t, log.Close())

	log2, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = log2.Close() }()
	require.NoError(t, log2.Append(Entry{Event: EventTransition, Actor: "engine", ProposalID: "prop-1"}))

	var last int64
	err = Replay(dir, time.Time{}, func(e *Entry) error {
		if e.Sequence > last {
			last = e.Sequence
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func TestReplaySince(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = log.Close() }()

	require.NoError(t, log.Append(Entry{Event: EventProposalCreated, Actor: "engine"}))
	cutoff := time.Now()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, log.Append(Entry{Event: EventTransition, Actor: "engine"}))

	var events []Event
	err = Replay(dir, cutoff, func(e *Entry) error {
		events = append(events, e.Event)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []Event{EventTransition}, events)
}

func TestConfigChangeEntryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = log.Close() }()

	before := types.DefaultEngineConfig()
	after := before
	after.ForceManualApproval = true

	require.NoError(t, log.Append(Entry{
		Event:        EventConfigChanged,
		Actor:        "ops@corp",
		ConfigBefore: &before,
		ConfigAfter:  &after,
	}))

	var got *Entry
	err = Replay(dir, time.Time{}, func(e *Entry) error {
		got = e
		return nil
	})
	require.NoError(t, err)

	require.NotNil(t, got)
	require.NotNil(t, got.ConfigBefore)
	require.NotNil(t, got.ConfigAfter)
	assert.False(t, got.ConfigBefore.ForceManualApproval)
	assert.True(t, got.ConfigAfter.ForceManualApproval)
	assert.Equal(t, "ops@corp", got.Actor)
}

func TestGetStats(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = log.Close() }()

	require.NoError(t, log.Append(Entry{Event: EventProposalCreated, Actor: "engine"}))
	require.NoError(t, log.Append(Entry{Event: EventTransition, Actor: "engine"}))
	require.NoError(t, log.Append(Entry{Event: EventTransition, Actor: "watchdog"}))

	stats, err := GetStats(dir)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TotalFiles)
	assert.Equal(t, int64(3), stats.TotalEntries)
	assert.Equal(t, int64(1), stats.FirstSequence)
	assert.Equal(t, int64(3), stats.LastSequence)
	assert.Equal(t, int64(2), stats.ByEvent[EventTransition])
	assert.Equal(t, int64(1), stats.ByEvent[EventProposalCreated])
}
