package events

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/fatlabsxyz/privacy-pools-client/common"
)

const defaultWaitAttempts = 10
const defaultWaitInterval = time.Second * 3

// Waiter polls a source until a just-submitted transaction's event becomes
// visible, so a locally-confirmed append can be verified against chain truth
// before the next full replay
type Waiter struct {
	source Source

	attempts int
	interval time.Duration
}

// NewWaiter creates a waiter with the default polling policy
func NewWaiter(source Source) *Waiter {
	return &Waiter{
		source:   source,
		attempts: defaultWaitAttempts,
		interval: defaultWaitInterval,
	}
}

// WaitForDeposit polls until a deposit with the given precommitment appears
func (w *Waiter) WaitForDeposit(ctx context.Context, pool *common.PoolDescriptor, precommitment *big.Int) (*DepositEvent, error) {
	return wait(ctx, w, func(ctx context.Context) (*DepositEvent, error) {
		deposits, err := w.source.GetDepositEvents(ctx, pool)
		if err != nil {
			return nil, err
		}
		for _, deposit := range deposits {
			if deposit.Precommitment.Cmp(precommitment) == 0 {
				return deposit, nil
			}
		}
		return nil, nil
	})
}

// WaitForWithdrawal polls until a withdrawal spending the given nullifier hash appears
func (w *Waiter) WaitForWithdrawal(ctx context.Context, pool *common.PoolDescriptor, nullifierHash *big.Int) (*WithdrawalEvent, error) {
	return wait(ctx, w, func(ctx context.Context) (*WithdrawalEvent, error) {
		withdrawals, err := w.source.GetWithdrawalEvents(ctx, pool, nullifierHash)
		if err != nil {
			return nil, err
		}
		if len(withdrawals) > 0 {
			return withdrawals[0], nil
		}
		return nil, nil
	})
}

// WaitForRagequit polls until a ragequit for the given label appears
func (w *Waiter) WaitForRagequit(ctx context.Context, pool *common.PoolDescriptor, label *big.Int) (*RagequitEvent, error) {
	return wait(ctx, w, func(ctx context.Context) (*RagequitEvent, error) {
		ragequits, err := w.source.GetRagequitEvents(ctx, pool, label)
		if err != nil {
			return nil, err
		}
		if len(ragequits) > 0 {
			return ragequits[0], nil
		}
		return nil, nil
	})
}

func wait[T any](ctx context.Context, w *Waiter, poll func(ctx context.Context) (*T, error)) (*T, error) {
	var lastErr error

	for attempt := 0; attempt < w.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(w.interval):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		event, err := poll(ctx)
		if err != nil {
			// transient; the next poll re-queries idempotently
			common.Log.Debugf("event wait poll failed; %s", err.Error())
			lastErr = err
			continue
		}
		if event != nil {
			return event, nil
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("event not observed after %d attempts; last error: %s", w.attempts, lastErr.Error())
	}
	return nil, fmt.Errorf("event not observed after %d attempts", w.attempts)
}
