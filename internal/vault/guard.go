package vault

import (
	"BondVault/internal/errs"
	"BondVault/internal/state"
	"fmt"
)

// inFlightGuard rejects re-entry into an operation on a position that is
// already mid-operation further up the call stack. Deposits share one slot
// because they all append to the same curve counter. Open withdrawals are
// counted so a distribution never runs while a removed position may still be
// restored.
type inFlightGuard struct {
	positions   map[state.PositionID]string
	depositOp   bool
	withdrawOps int
}

func newInFlightGuard() *inFlightGuard {
	return &inFlightGuard{positions: make(map[state.PositionID]string)}
}

// enter marks ids as busy for op. All-or-nothing: if any id is busy none are marked.
func (g *inFlightGuard) enter(op string, ids ...state.PositionID) error {
	for _, id := range ids {
		if holder, busy := g.positions[id]; busy {
			return fmt.Errorf("%s on position %d while %s in flight: %w", op, id, holder, errs.ErrReentrantCall)
		}
	}
	for _, id := range ids {
		g.positions[id] = op
		if op == OpWithdraw {
			g.withdrawOps++
		}
	}
	return nil
}

func (g *inFlightGuard) leave(ids ...state.PositionID) {
	for _, id := range ids {
		if g.positions[id] == OpWithdraw {
			g.withdrawOps--
		}
		delete(g.positions, id)
	}
}

func (g *inFlightGuard) enterDeposit() error {
	if g.depositOp {
		return fmt.Errorf("deposit while another deposit in flight: %w", errs.ErrReentrantCall)
	}
	g.depositOp = true
	return nil
}

func (g *inFlightGuard) leaveDeposit() {
	g.depositOp = false
}

func (g *inFlightGuard) depositInFlight() bool {
	return g.depositOp
}

func (g *inFlightGuard) withdrawInFlight() bool {
	return g.withdrawOps > 0
}

// compensator collects undo steps for the collaborator calls and engine
// mutations of one operation and runs them newest-first on failure.
type compensator struct {
	steps []compensation
}

type compensation struct {
	name string
	undo func() error
}

func (c *compensator) push(name string, undo func() error) {
	c.steps = append(c.steps, compensation{name: name, undo: undo})
}

// rollback runs every step in reverse order. Steps keep running after a
// failure; the returned error joins all failures.
func (c *compensator) rollback() error {
	var failed error
	for i := len(c.steps) - 1; i >= 0; i-- {
		step := c.steps[i]
		if err := step.undo(); err != nil {
			if failed == nil {
				failed = fmt.Errorf("undo %s: %w", step.name, err)
			} else {
				failed = fmt.Errorf("%w; undo %s: %w", failed, step.name, err)
			}
		}
	}
	c.steps = nil
	return failed
}
