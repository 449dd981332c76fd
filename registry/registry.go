// Package registry is the authoritative store of every action proposal and
// its lifecycle state. It enforces the two invariants the rest of the engine
// leans on: at most one active proposal per target, and compare-and-swap
// status transitions so concurrent callers resolve with exactly one winner.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/vahti/types"
)

// Bucket names in bbolt
var (
	bucketProposals = []byte("proposals")
	bucketConfig    = []byte("config")
	bucketMeta      = []byte("meta")
)

var keyEngineConfig = []byte("engine_config")

// ErrNotFound is returned for lookups of unknown proposal ids.
var ErrNotFound = errors.New("proposal not found")

// activeEntry indexes the current active proposal for a target.
type activeEntry struct {
	Target     string
	ProposalID string
}

// Store persists proposals in bbolt with an in-memory index of active
// proposals keyed by target. All mutations run under the store mutex and a
// single bbolt transaction, which is what makes transitions linearizable.
type Store struct {
	mu     sync.Mutex
	db     *bbolt.DB
	active *btree.BTreeG[*activeEntry]
	config types.EngineConfig
	dir    string
}

// Filter narrows List results.
type Filter struct {
	Status types.Status
	Target string
}

// Open creates or opens a registry in the given directory.
func Open(dir string) (*Store, error) {
	dbPath := filepath.Join(dir, "vahti.db")

	db, err := bbolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketProposals, bucketConfig, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db: db,
		active: btree.NewG[*activeEntry](32, func(a, b *activeEntry) bool {
			return a.Target < b.Target
		}),
		dir: dir,
	}

	if err := s.loadConfig(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.rebuildActiveIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the proposal with the given id.
func (s *Store) Get(id string) (*types.ActionProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *Store) getLocked(id string) (*types.ActionProposal, error) {
	var p *types.ActionProposal

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketProposals).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		p = &types.ActionProposal{}
		return json.Unmarshal(data, p)
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

// ActiveByTarget returns the current active proposal for a target, if any.
func (s *Store) ActiveByTarget(target string) (*types.ActionProposal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, found := s.active.Get(&activeEntry{Target: target})
	if !found {
		return nil, false, nil
	}

	p, err := s.getLocked(entry.ProposalID)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// ActiveCount returns how many targets currently have an active proposal.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active.Len()
}

// List returns proposals matching the filter, in persisted key order.
func (s *Store) List(filter Filter) ([]types.ActionProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []types.ActionProposal

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProposals).ForEach(func(_, v []byte) error {
			var p types.ActionProposal
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if filter.Status != "" && p.Status != filter.Status {
				return nil
			}
			if filter.Target != "" && p.Target != filter.Target {
				return nil
			}
			results = append(results, p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// ListByStatus returns all proposals in the given status.
func (s *Store) ListByStatus(status types.Status) ([]types.ActionProposal, error) {
	return s.List(Filter{Status: status})
}

// InsertResult describes what InsertOrSupersede did.
type InsertResult struct {
	// SupersededID is set when an existing active proposal was rejected in
	// favor of the newcomer.
	SupersededID string
}

// InsertOrSupersede atomically inserts a proposal for a target. If the
// target already has an active proposal, the newcomer wins only when it
// raises confidence and the incumbent has not started executing; the
// incumbent is then rejected as superseded in the same transaction.
// Otherwise the newcomer's evidence is attached to the incumbent and a
// DuplicateTargetError identifies it.
func (s *Store) InsertOrSupersede(p *types.ActionProposal) (*InsertResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, found := s.active.Get(&activeEntry{Target: p.Target})
	if !found {
		if err := s.putLocked(p); err != nil {
			return nil, err
		}
		s.active.ReplaceOrInsert(&activeEntry{Target: p.Target, ProposalID: p.ID})
		return &InsertResult{}, nil
	}

	incumbent, err := s.getLocked(entry.ProposalID)
	if err != nil {
		return nil, err
	}

	supersedable := incumbent.Status == types.StatusPending || incumbent.Status == types.StatusApproved
	if p.Confidence > incumbent.Confidence && supersedable {
		now := time.Now()
		incumbent.Status = types.StatusRejected
		incumbent.DecidedBy = "system:merge"
		incumbent.DecidedAt = now
		incumbent.DecisionReason = fmt.Sprintf("superseded by %s at confidence %.2f", p.ID, p.Confidence)

		err := s.db.Update(func(tx *bbolt.Tx) error {
			if err := putProposal(tx, incumbent); err != nil {
				return err
			}
			return putProposal(tx, p)
		})
		if err != nil {
			return nil, err
		}

		s.active.ReplaceOrInsert(&activeEntry{Target: p.Target, ProposalID: p.ID})
		return &InsertResult{SupersededID: incumbent.ID}, nil
	}

	// Duplicate: attach any new evidence refs to the incumbent.
	if attachEvidence(incumbent, p.Evidence) {
		if err := s.putLocked(incumbent); err != nil {
			return nil, err
		}
	}

	return nil, &types.DuplicateTargetError{Target: p.Target, ActiveProposalID: incumbent.ID}
}

// Transition performs a compare-and-swap status update. It fails with
// InvalidTransitionError when the proposal is not in the expected state or
// the edge is not legal; under concurrent calls exactly one caller wins.
// mutate, when non-nil, is applied to the proposal inside the same
// transaction (for decided_by, results, and similar bookkeeping).
func (s *Store) Transition(id string, from, to types.Status, mutate func(*types.ActionProposal)) (*types.ActionProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}

	if p.Status != from || !types.CanTransition(from, to) {
		return nil, &types.InvalidTransitionError{
			ProposalID: id,
			Current:    p.Status,
			Expected:   from,
			Requested:  to,
		}
	}

	p.Status = to
	if mutate != nil {
		mutate(p)
	}

	if err := s.putLocked(p); err != nil {
		return nil, err
	}

	if !p.Active() {
		s.active.Delete(&activeEntry{Target: p.Target})
	}

	return p, nil
}

// AttachEvidence appends new evidence refs to an existing proposal without
// touching its write-once fields.
func (s *Store) AttachEvidence(id string, refs []string) (*types.ActionProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}

	if attachEvidence(p, refs) {
		if err := s.putLocked(p); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// EngineConfig returns the current gate configuration. Reads observe every
// committed SetEngineConfig (read-after-write).
func (s *Store) EngineConfig() types.EngineConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// SetEngineConfig persists a new gate configuration. The caller validates;
// the store guarantees the write is durable before any later read sees it.
func (s *Store) SetEngineConfig(cfg types.EngineConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConfig).Put(keyEngineConfig, data)
	})
	if err != nil {
		return err
	}

	s.config = cfg
	return nil
}

// SeedEngineConfig persists cfg only when no config has ever been stored.
// Later starts keep the operator-set config over the file seed.
func (s *Store) SeedEngineConfig(cfg types.EngineConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(bucketConfig).Get(keyEngineConfig) != nil
		return nil
	})
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConfig).Put(keyEngineConfig, data)
	})
	if err != nil {
		return err
	}

	s.config = cfg
	return nil
}

// Helper functions

func (s *Store) putLocked(p *types.ActionProposal) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putProposal(tx, p)
	})
}

func putProposal(tx *bbolt.Tx, p *types.ActionProposal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketProposals).Put([]byte(p.ID), data)
}

func attachEvidence(p *types.ActionProposal, refs []string) bool {
	seen := make(map[string]struct{}, len(p.Evidence))
	for _, ref := range p.Evidence {
		seen[ref] = struct{}{}
	}

	changed := false
	for _, ref := range refs {
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		p.Evidence = append(p.Evidence, ref)
		changed = true
	}
	return changed
}

func (s *Store) loadConfig() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketConfig).Get(keyEngineConfig)
		if data == nil {
			s.config = types.DefaultEngineConfig()
			return nil
		}
		return json.Unmarshal(data, &s.config)
	})
}

// rebuildActiveIndex restores the target index from disk on open.
func (s *Store) rebuildActiveIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProposals).ForEach(func(_, v []byte) error {
			var p types.ActionProposal
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.Active() {
				s.active.ReplaceOrInsert(&activeEntry{Target: p.Target, ProposalID: p.ID})
			}
			return nil
		})
	})
}
