package account

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/fatlabsxyz/privacy-pools-client/events"
)

// ReviewStatus reflects association-set approval composed with the local chain state
type ReviewStatus string

const (
	// ReviewStatusPending deposit not yet approved by the ASP
	ReviewStatusPending ReviewStatus = "PENDING"
	// ReviewStatusApproved label present in the ASP association set
	ReviewStatusApproved ReviewStatus = "APPROVED"
	// ReviewStatusSpent position fully withdrawn
	ReviewStatusSpent ReviewStatus = "SPENT"
	// ReviewStatusExited position closed via ragequit
	ReviewStatusExited ReviewStatus = "EXITED"
)

var (
	// ErrDuplicateLabel a position with the same label already exists for the scope
	ErrDuplicateLabel = errors.New("duplicate position label")
	// ErrUnknownParent the parent commitment is not the position's current spendable commitment
	ErrUnknownParent = errors.New("parent is not the last commitment")
	// ErrAlreadyExited the position has been closed by a ragequit
	ErrAlreadyExited = errors.New("position already exited")
	// ErrConflictingRagequit a different ragequit event was already applied to the position
	ErrConflictingRagequit = errors.New("conflicting ragequit event")
	// ErrValueExceedsParent a child commitment may never exceed its parent's value
	ErrValueExceedsParent = errors.New("child commitment value exceeds parent")
	// ErrChainDiverged two confirmed withdrawals were found at the same commitment frontier
	ErrChainDiverged = errors.New("commitment chain diverged")
)

// PoolAccount represents one deposit and its lifecycle of partial withdrawals:
// a chain deposit → children[0] → children[1] → … in chronological spend
// order, optionally terminated by a ragequit. Balance and review status are
// always derived from the chain, never cached alongside it.
type PoolAccount struct {
	Label   *big.Int `json:"label"`
	ChainID string   `json:"chain_id"`
	Scope   *big.Int `json:"scope"`

	// Name is the 1-based display index of the position within its scope
	Name int `json:"name"`

	// DepositIndex is the derivation index the deposit secrets were created with
	DepositIndex uint64 `json:"deposit_index"`

	Deposit  *Commitment   `json:"deposit"`
	Children []*Commitment `json:"children"`

	Ragequit *events.RagequitEvent `json:"ragequit,omitempty"`

	// IsValid reports whether the label is present in the ASP association set
	IsValid bool `json:"is_valid"`

	aspStatus ReviewStatus
}

// NewPoolAccount creates a position for a confirmed deposit with an empty chain
func NewPoolAccount(chainID string, scope *big.Int, index uint64, deposit *Commitment) (*PoolAccount, error) {
	if deposit == nil || deposit.Label == nil {
		return nil, fmt.Errorf("pool account requires a labeled deposit commitment")
	}

	return &PoolAccount{
		Label:        new(big.Int).Set(deposit.Label),
		ChainID:      chainID,
		Scope:        new(big.Int).Set(scope),
		DepositIndex: index,
		Deposit:      deposit,
		Children:     []*Commitment{},
		aspStatus:    ReviewStatusPending,
	}, nil
}

// LastCommitment returns the only currently spendable commitment for the position
func (p *PoolAccount) LastCommitment() *Commitment {
	if len(p.Children) > 0 {
		return p.Children[len(p.Children)-1]
	}
	return p.Deposit
}

// Balance is derived from the last commitment, or zero once ragequit is set
func (p *PoolAccount) Balance() *big.Int {
	if p.Ragequit != nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(p.LastCommitment().Value)
}

// ReviewStatus composes the ASP-provided approval state with the local chain:
// ragequit forces EXITED, a zero balance forces SPENT, otherwise the ASP
// status stands. Transitions are monotone; see SetASPStatus.
func (p *PoolAccount) ReviewStatus() ReviewStatus {
	if p.Ragequit != nil {
		return ReviewStatusExited
	}
	if p.Balance().Sign() == 0 {
		return ReviewStatusSpent
	}
	return p.aspStatus
}

// SetASPStatus applies an ASP-supplied approval status; a position never
// regresses from APPROVED back to PENDING, and terminal states always win
func (p *PoolAccount) SetASPStatus(status ReviewStatus) {
	if status == ReviewStatusPending && p.aspStatus == ReviewStatusApproved {
		return
	}
	if status == ReviewStatusApproved || status == ReviewStatusPending {
		p.aspStatus = status
		p.IsValid = status == ReviewStatusApproved
	}
}

// AppendWithdrawal appends the change commitment left after a withdrawal from
// the position's current last commitment. The parent must be the frontier
// commitment (forking the chain is an integrity error) and the position must
// not be exited. No partial mutation occurs on failure.
func (p *PoolAccount) AppendWithdrawal(parent *Commitment, child *Commitment) error {
	if p.Ragequit != nil {
		return ErrAlreadyExited
	}

	last := p.LastCommitment()
	if parent == nil || parent.Hash == nil || parent.Hash.Cmp(last.Hash) != 0 {
		return ErrUnknownParent
	}

	if child.Value.Sign() < 0 || child.Value.Cmp(last.Value) > 0 {
		return ErrValueExceedsParent
	}

	p.Children = append(p.Children, child)
	return nil
}

// AppendRagequit terminates the position. Idempotent for the same event;
// a different event on an already-exited position is an integrity error.
func (p *PoolAccount) AppendRagequit(event *events.RagequitEvent) error {
	if event == nil || event.Label == nil || event.Label.Cmp(p.Label) != 0 {
		return fmt.Errorf("ragequit event does not match position label %s", p.Label)
	}

	if p.Ragequit != nil {
		if p.Ragequit.TxHash == event.TxHash {
			return nil
		}
		return ErrConflictingRagequit
	}

	p.Ragequit = event
	return nil
}

// Clone returns a deep-enough copy for safe hand-off across the store boundary
func (p *PoolAccount) Clone() *PoolAccount {
	clone := *p
	clone.Children = make([]*Commitment, len(p.Children))
	copy(clone.Children, p.Children)
	return &clone
}

// EventType identifies a row in a position's flattened history
type EventType string

const (
	// EventTypeDeposit a confirmed deposit
	EventTypeDeposit EventType = "deposit"
	// EventTypeWithdrawal a confirmed partial or full withdrawal
	EventTypeWithdrawal EventType = "withdrawal"
	// EventTypeRagequit a confirmed emergency exit
	EventTypeRagequit EventType = "ragequit"
)

// HistoryEntry is one row of a position's chronological history
type HistoryEntry struct {
	Type         EventType    `json:"type"`
	Amount       *big.Int     `json:"amount"`
	TxHash       string       `json:"tx_hash"`
	Timestamp    uint64       `json:"timestamp"`
	ReviewStatus ReviewStatus `json:"review_status"`
	Label        *big.Int     `json:"label"`
	Scope        *big.Int     `json:"scope"`
}

// History flattens the position into deposit/withdrawal/ragequit rows;
// withdrawal amounts are the value differences between consecutive commitments
func (p *PoolAccount) History() []*HistoryEntry {
	status := p.ReviewStatus()
	entries := []*HistoryEntry{{
		Type:         EventTypeDeposit,
		Amount:       new(big.Int).Set(p.Deposit.Value),
		TxHash:       p.Deposit.TxHash,
		Timestamp:    p.Deposit.Timestamp,
		ReviewStatus: status,
		Label:        p.Label,
		Scope:        p.Scope,
	}}

	parent := p.Deposit
	for _, child := range p.Children {
		entries = append(entries, &HistoryEntry{
			Type:         EventTypeWithdrawal,
			Amount:       new(big.Int).Sub(parent.Value, child.Value),
			TxHash:       child.TxHash,
			Timestamp:    child.Timestamp,
			ReviewStatus: status,
			Label:        p.Label,
			Scope:        p.Scope,
		})
		parent = child
	}

	if p.Ragequit != nil {
		entries = append(entries, &HistoryEntry{
			Type:         EventTypeRagequit,
			Amount:       new(big.Int).Set(p.Ragequit.Value),
			TxHash:       p.Ragequit.TxHash,
			Timestamp:    p.Ragequit.Timestamp,
			ReviewStatus: status,
			Label:        p.Label,
			Scope:        p.Scope,
		})
	}

	return entries
}
