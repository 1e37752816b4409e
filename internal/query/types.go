package query

import "time"

// PositionRow is a position as projected into vault.positions. It lags the
// core by the projection watermark; live reads go through the controller.
type PositionRow struct {
	PositionID   uint64 `json:"position_id"`
	Depositor    string `json:"depositor"`
	State        string `json:"state"`
	DepositValue int64  `json:"deposit_value"`
	IsMeta       bool   `json:"is_meta"`
	CurveStart   int64  `json:"curve_start"`
	CurveCount   int64  `json:"curve_count"`
	AccruedYield int64  `json:"accrued_yield"`
	ClaimedYield int64  `json:"claimed_yield"`
	SubAccount   string `json:"sub_account"`
	LastSequence int64  `json:"last_sequence"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// EpochRow is one yield distribution.
type EpochRow struct {
	EpochID     int64     `json:"epoch_id"`
	Sequence    int64     `json:"sequence"`
	TotalAmount int64     `json:"total_amount"`
	TotalLocked int64     `json:"total_locked"`
	Credited    int64     `json:"credited"`
	Dust        int64     `json:"dust"`
	CreditCount int       `json:"credit_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool       `json:"is_healthy"`
	HashChainBreaks []int64    `json:"hash_chain_breaks,omitempty"`
	Mismatches      []Mismatch `json:"mismatches,omitempty"`
	AsOfSequence    int64      `json:"as_of_sequence"`
}

// Mismatch is a journal-derived total that disagrees with the projection.
type Mismatch struct {
	Account    string `json:"account"`
	Journal    int64  `json:"journal"`
	Projection int64  `json:"projection"`
}
