/*
 * Copyright 2025-2026 Fat Solutions
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package account

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	uuid "github.com/kthomas/go.uuid"

	"github.com/fatlabsxyz/privacy-pools-client/common"
	"github.com/fatlabsxyz/privacy-pools-client/events"
)

// ReviewState is the ASP-supplied approval snapshot for one chain/scope pair;
// eventually consistent with chain truth
type ReviewState struct {
	ASPLeaves []*big.Int
	Statuses  map[string]ReviewStatus // keyed by decimal label
}

// ReviewProvider supplies current association-set approval state; implemented
// by the ASP client
type ReviewProvider interface {
	GetReviewState(ctx context.Context, chainID string, scope *big.Int) (*ReviewState, error)
}

// Session owns all account state for a single seed: the position index, the
// per-scope deposit counters and the resolved pool descriptor cache. State is
// never shared at package level, so nothing leaks across seed switches. All
// index mutation is serialized through a single writer; concurrent Load calls
// for the same chain are coalesced, never run in parallel.
type Session struct {
	// ID identifies the session for logging and the HTTP surface
	ID uuid.UUID

	seed     string
	chains   map[string]*common.ChainDescriptor
	source   events.Source
	replayer *Replayer

	mutex    sync.Mutex
	index    map[string][]*PoolAccount
	counters map[string]uint64

	completedPools map[string][]*common.PoolDescriptor

	loadMutex   sync.Mutex
	inFlight    map[string]chan struct{}
	reconciling bool
	closed      bool
}

// NewSession creates a session for the given seed. The seed is held in memory
// only and destroyed by Close; it is never serialized by the session.
func NewSession(seed string, chains map[string]*common.ChainDescriptor, source events.Source) (*Session, error) {
	if _, err := seedElement(seed); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("session requires an event source")
	}

	id, _ := uuid.NewV4()
	retrying := events.NewRetryingSource(source)

	return &Session{
		ID:             id,
		seed:           seed,
		chains:         chains,
		source:         retrying,
		replayer:       NewReplayer(retrying),
		index:          map[string][]*PoolAccount{},
		counters:       map[string]uint64{},
		completedPools: map[string][]*common.PoolDescriptor{},
		inFlight:       map[string]chan struct{}{},
	}, nil
}

// Close destroys the seed and clears the index; the session is unusable afterwards
func (s *Session) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.seed = ""
	s.index = map[string][]*PoolAccount{}
	s.counters = map[string]uint64{}
	s.completedPools = map[string][]*common.PoolDescriptor{}
	s.closed = true
}

func (s *Session) requireOpen() error {
	if s.closed {
		return fmt.Errorf("session %s is closed", s.ID)
	}
	return nil
}

// completePools resolves missing pool scopes from the chain once per chain id
// and caches the completed descriptors for the life of the session
func (s *Session) completePools(ctx context.Context, chainID string) ([]*common.PoolDescriptor, error) {
	s.mutex.Lock()
	cached, hit := s.completedPools[chainID]
	s.mutex.Unlock()
	if hit {
		return cached, nil
	}

	chain, exists := s.chains[chainID]
	if !exists {
		return nil, fmt.Errorf("unknown chain id: %s", chainID)
	}

	completed := make([]*common.PoolDescriptor, 0, len(chain.Pools))
	for _, pool := range chain.Pools {
		descriptor := *pool
		if descriptor.Scope == nil {
			scope, err := s.source.GetScope(ctx, &descriptor)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve scope for pool %s on chain %s; %s", pool.Address, chainID, err.Error())
			}
			descriptor.Scope = scope
		}
		completed = append(completed, &descriptor)
	}

	s.mutex.Lock()
	s.completedPools[chainID] = completed
	s.mutex.Unlock()

	return completed, nil
}

// Load performs a full replay for the chain and reconciles the index with the
// result. Chain-confirmed data always wins over locally-patched optimistic
// state; pools whose replay failed keep their previous positions rather than
// being emptied. Concurrent Load calls for the same chain coalesce onto the
// in-flight replay; a Load for a different chain always runs its own replay.
func (s *Session) Load(ctx context.Context, chainID string) ([]*PoolAccount, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}

	s.loadMutex.Lock()
	waiter, inflight := s.inFlight[chainID]
	if inflight {
		s.loadMutex.Unlock()
		select {
		case <-waiter:
			return s.Positions(chainID), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	done := make(chan struct{})
	s.inFlight[chainID] = done
	s.loadMutex.Unlock()

	defer func() {
		s.loadMutex.Lock()
		delete(s.inFlight, chainID)
		s.loadMutex.Unlock()
		close(done)
	}()

	pools, err := s.completePools(ctx, chainID)
	if err != nil {
		return nil, err
	}

	result, err := s.replayer.Replay(ctx, s.seed, pools)
	if err != nil {
		return nil, err
	}

	s.mutex.Lock()
	for key, accounts := range result.Accounts {
		previous := s.index[key]
		s.index[key] = accounts
		s.carryASPStatus(previous, accounts)

		if count := uint64(len(accounts)); count > s.counters[key] {
			s.counters[key] = count
		}
	}
	s.mutex.Unlock()

	if len(result.Failed) > 0 {
		common.Log.Warningf("replay left %d pool(s) stale for session %s", len(result.Failed), s.ID)
	}

	return s.Positions(chainID), nil
}

// carryASPStatus re-applies previously observed ASP approval to freshly
// replayed positions so an approved position does not flicker back to pending
// while the next reconciliation is pending
func (s *Session) carryASPStatus(previous, current []*PoolAccount) {
	if len(previous) == 0 {
		return
	}

	approved := map[string]bool{}
	for _, position := range previous {
		if position.IsValid {
			approved[position.Label.String()] = true
		}
	}

	for _, position := range current {
		if approved[position.Label.String()] {
			position.SetASPStatus(ReviewStatusApproved)
		}
	}
}

// NextDepositIndex returns the monotonic per-scope derivation index for a new
// deposit; the counter only advances when the deposit is confirmed via
// AddPoolAccount, so an abandoned deposit attempt does not burn an index
func (s *Session) NextDepositIndex(chainID string, scope *big.Int) uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.counters[common.ChainScopeKey(chainID, scope)]
}

// CreateDepositSecrets derives the secrets for a fresh deposit at the scope's
// next unused index
func (s *Session) CreateDepositSecrets(chainID string, scope *big.Int) (*DepositSecrets, uint64, error) {
	if err := s.requireOpen(); err != nil {
		return nil, 0, err
	}

	index := s.NextDepositIndex(chainID, scope)
	secrets, err := DeriveDepositSecrets(s.seed, scope, index)
	if err != nil {
		return nil, 0, err
	}
	return secrets, index, nil
}

// CreateSpendSecrets derives the secrets for spending the given commitment
func (s *Session) CreateSpendSecrets(commitment *Commitment) (*SpendSecrets, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	return DeriveSpendSecrets(s.seed, commitment)
}

// AddPoolAccount patches a locally-confirmed deposit into the index ahead of
// the next full replay. Fails with ErrDuplicateLabel if the label is already
// present for the scope.
func (s *Session) AddPoolAccount(chainID string, scope *big.Int, value, nullifier, secret, label *big.Int, blockNumber uint64, txHash string) (*PoolAccount, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := common.ChainScopeKey(chainID, scope)
	for _, position := range s.index[key] {
		if position.Label.Cmp(label) == 0 {
			return nil, ErrDuplicateLabel
		}
	}

	deposit, err := NewCommitment(value, label, nullifier, secret, blockNumber, txHash)
	if err != nil {
		return nil, err
	}

	index := s.counters[key]
	position, err := NewPoolAccount(chainID, scope, index, deposit)
	if err != nil {
		return nil, err
	}
	position.Name = len(s.index[key]) + 1

	s.index[key] = append(s.index[key], position)
	s.counters[key] = index + 1

	common.Log.Debugf("patched deposit with label %s into session %s; scope %s", label, s.ID, scope)
	return position, nil
}

// AddWithdrawal patches a locally-confirmed withdrawal into the index. The
// parent must be the owning position's last commitment; value is the
// remaining (change) commitment value.
func (s *Session) AddWithdrawal(parent *Commitment, value, nullifier, secret *big.Int, blockNumber uint64, txHash string) (*PoolAccount, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	position := s.findByLastCommitment(parent)
	if position == nil {
		return nil, ErrUnknownParent
	}

	child, err := NewCommitment(value, position.Label, nullifier, secret, blockNumber, txHash)
	if err != nil {
		return nil, err
	}

	err = position.AppendWithdrawal(parent, child)
	if err != nil {
		return nil, err
	}

	common.Log.Debugf("patched withdrawal %s into session %s; label %s", txHash, s.ID, position.Label)
	return position, nil
}

// AddRagequit patches a locally-confirmed ragequit into the index
func (s *Session) AddRagequit(label *big.Int, event *events.RagequitEvent) (*PoolAccount, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	position := s.findByLabel(label)
	if position == nil {
		return nil, fmt.Errorf("no position with label %s", label)
	}

	err := position.AppendRagequit(event)
	if err != nil {
		return nil, err
	}

	common.Log.Debugf("patched ragequit %s into session %s; label %s", event.TxHash, s.ID, label)
	return position, nil
}

func (s *Session) findByLastCommitment(commitment *Commitment) *PoolAccount {
	if commitment == nil || commitment.Hash == nil {
		return nil
	}
	for _, positions := range s.index {
		for _, position := range positions {
			if position.LastCommitment().Hash.Cmp(commitment.Hash) == 0 {
				return position
			}
		}
	}
	return nil
}

func (s *Session) findByLabel(label *big.Int) *PoolAccount {
	if label == nil {
		return nil
	}
	for _, positions := range s.index {
		for _, position := range positions {
			if position.Label.Cmp(label) == 0 {
				return position
			}
		}
	}
	return nil
}

// PositionByLabel returns a copy of the position with the given label, or nil
func (s *Session) PositionByLabel(label *big.Int) *PoolAccount {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if position := s.findByLabel(label); position != nil {
		return position.Clone()
	}
	return nil
}

// SelectByChainScope returns the positions for one chain-scope partition
func (s *Session) SelectByChainScope(chainID string, scope *big.Int) []*PoolAccount {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	positions := s.index[common.ChainScopeKey(chainID, scope)]
	selected := make([]*PoolAccount, len(positions))
	for i, position := range positions {
		selected[i] = position.Clone()
	}
	return selected
}

// Positions returns the flat list of positions for the given chain
func (s *Session) Positions(chainID string) []*PoolAccount {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	flat := []*PoolAccount{}
	for _, positions := range s.index {
		for _, position := range positions {
			if position.ChainID == chainID {
				flat = append(flat, position.Clone())
			}
		}
	}
	return flat
}

// History returns the flattened event history for the given chain
func (s *Session) History(chainID string) []*HistoryEntry {
	entries := []*HistoryEntry{}
	for _, position := range s.Positions(chainID) {
		entries = append(entries, position.History()...)
	}
	return entries
}

// Reconcile re-derives ASP-driven review status for every position on the
// chain. Positions already SPENT or EXITED never regress; the derived status
// composition guarantees that regardless of what the provider reports.
func (s *Session) Reconcile(ctx context.Context, chainID string, provider ReviewProvider) error {
	if err := s.requireOpen(); err != nil {
		return err
	}

	s.mutex.Lock()
	if s.reconciling {
		s.mutex.Unlock()
		common.Log.Debugf("reconciliation already in flight for session %s; tick skipped", s.ID)
		return nil
	}
	s.reconciling = true
	s.mutex.Unlock()

	defer func() {
		s.mutex.Lock()
		s.reconciling = false
		s.mutex.Unlock()
	}()

	pools, err := s.completePools(ctx, chainID)
	if err != nil {
		return err
	}

	for _, pool := range pools {
		state, err := provider.GetReviewState(ctx, chainID, pool.Scope)
		if err != nil {
			common.Log.Warningf("failed to fetch review state for scope %s on chain %s; %s", pool.Scope, chainID, err.Error())
			continue
		}

		approved := map[string]bool{}
		for _, leaf := range state.ASPLeaves {
			approved[leaf.String()] = true
		}

		s.mutex.Lock()
		for _, position := range s.index[common.ChainScopeKey(chainID, pool.Scope)] {
			key := position.Label.String()
			if status, reported := state.Statuses[key]; reported {
				position.SetASPStatus(status)
			} else if approved[key] {
				position.SetASPStatus(ReviewStatusApproved)
			}
		}
		s.mutex.Unlock()
	}

	return nil
}

// StartReconciliation runs Reconcile on a fixed interval until the context is
// cancelled; a tick that fires while the previous one is still in flight is
// skipped rather than overlapped
func (s *Session) StartReconciliation(ctx context.Context, chainID string, provider ReviewProvider) {
	go func() {
		ticker := time.NewTicker(common.ReconcileInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				err := s.Reconcile(ctx, chainID, provider)
				if err != nil {
					common.Log.Warningf("reconciliation failed for session %s; %s", s.ID, err.Error())
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
