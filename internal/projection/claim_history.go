package projection

import (
	"BondVault/internal/event"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ClaimEntry is one yield payout to a position owner
type ClaimEntry struct {
	Sequence   int64          `json:"sequence"`
	PositionID uint64         `json:"position_id"`
	Claimant   common.Address `json:"claimant"`
	Amount     int64          `json:"amount"`
	Withdrawal bool           `json:"withdrawal"` // paid out as part of a withdraw
	Timestamp  time.Time      `json:"timestamp"`
}

// ClaimHistory keeps recent yield payouts in memory, newest last. It is
// bounded; older entries are dropped and remain in the event log.
type ClaimHistory struct {
	mu      sync.RWMutex
	max     int
	entries []ClaimEntry
}

func NewClaimHistory(max int) *ClaimHistory {
	if max <= 0 {
		max = 10_000
	}
	return &ClaimHistory{
		max:     max,
		entries: make([]ClaimEntry, 0),
	}
}

// Observe records the payout carried by evt, if any.
func (h *ClaimHistory) Observe(env *event.EventEnvelope, evt event.Event) {
	if h == nil {
		return
	}
	var entry ClaimEntry
	switch e := evt.(type) {
	case *event.YieldClaimed:
		entry = ClaimEntry{PositionID: e.Position, Claimant: e.Claimant, Amount: e.Amount}
	case *event.Withdrawn:
		if e.AccruedYield == 0 {
			return
		}
		entry = ClaimEntry{PositionID: e.Position, Claimant: e.Owner, Amount: e.AccruedYield, Withdrawal: true}
	default:
		return
	}
	entry.Sequence = env.Sequence
	entry.Timestamp = env.Timestamp

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	if over := len(h.entries) - h.max; over > 0 {
		h.entries = append(h.entries[:0], h.entries[over:]...)
	}
}

// QueryByPosition returns up to limit payouts for a position, newest first.
func (h *ClaimHistory) QueryByPosition(id uint64, limit int) []ClaimEntry {
	return h.query(limit, func(e ClaimEntry) bool { return e.PositionID == id })
}

// QueryByClaimant returns up to limit payouts to an address, newest first.
func (h *ClaimHistory) QueryByClaimant(addr common.Address, limit int) []ClaimEntry {
	return h.query(limit, func(e ClaimEntry) bool { return e.Claimant == addr })
}

func (h *ClaimHistory) query(limit int, match func(ClaimEntry) bool) []ClaimEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]ClaimEntry, 0)
	for i := len(h.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if match(h.entries[i]) {
			result = append(result, h.entries[i])
		}
	}
	return result
}

// Reset drops all entries.
func (h *ClaimHistory) Reset() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = h.entries[:0]
}
