package persistence

import (
	"BondVault/internal/event"
	"BondVault/internal/vault"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes events and journals to Postgres using multi-row
// INSERTs. Writes are idempotent on the primary key so a retried batch is
// harmless.
type EventLogWriter struct{}

// EventRow is one row of vault.events
type EventRow struct {
	Sequence    int64
	Op          string
	OperationID string
	EventType   string
	PositionID  *int64
	Payload     []byte // JSON, stored as bytes so the hashed encoding survives
	StateHash   []byte
	PrevHash    []byte
	Timestamp   time.Time
}

// JournalRow is one row of vault.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Amount        int64
	JournalType   string
}

func NewEventLogWriter() *EventLogWriter {
	return &EventLogWriter{}
}

// RowsFromOutput flattens one committed output into its event row and
// journal rows.
func RowsFromOutput(out vault.Output) (EventRow, []JournalRow) {
	env := out.Envelope
	row := EventRow{
		Sequence:    env.Sequence,
		Op:          env.Op,
		OperationID: env.OperationID,
		EventType:   env.EventType.String(),
		Payload:     env.Payload,
		StateHash:   append([]byte(nil), env.StateHash[:]...),
		PrevHash:    append([]byte(nil), env.PrevHash[:]...),
		Timestamp:   env.Timestamp,
	}
	if env.PositionID != nil {
		id := int64(*env.PositionID)
		row.PositionID = &id
	}

	if out.Batch == nil {
		return row, nil
	}
	journals := make([]JournalRow, 0, len(out.Batch.Journals))
	for _, j := range out.Batch.Journals {
		journals = append(journals, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			Amount:        j.Amount,
			JournalType:   j.JournalType.String(),
		})
	}
	return row, journals
}

// Envelope rebuilds the envelope for replay.
func (e EventRow) Envelope() (*event.EventEnvelope, error) {
	if len(e.StateHash) != 32 || len(e.PrevHash) != 32 {
		return nil, fmt.Errorf("event %d: hash length %d/%d, want 32", e.Sequence, len(e.StateHash), len(e.PrevHash))
	}
	et := event.ParseEventType(e.EventType)
	if et == event.EventTypeUnknown {
		return nil, fmt.Errorf("event %d: unknown type %q", e.Sequence, e.EventType)
	}

	env := &event.EventEnvelope{
		Sequence:    e.Sequence,
		Op:          e.Op,
		OperationID: e.OperationID,
		EventType:   et,
		Timestamp:   e.Timestamp,
		Payload:     e.Payload,
	}
	if e.PositionID != nil {
		id := uint64(*e.PositionID)
		env.PositionID = &id
	}
	copy(env.StateHash[:], e.StateHash)
	copy(env.PrevHash[:], e.PrevHash)
	return env, nil
}

// WriteEventBatch inserts events into vault.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 9
	values := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*cols)
	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.Sequence, e.Op, e.OperationID, e.EventType, e.PositionID,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query := `INSERT INTO vault.events
		(sequence, op, operation_id, event_type, position_id, payload, state_hash, prev_hash, timestamp)
		VALUES ` + strings.Join(values, ", ") + ` ON CONFLICT (sequence) DO NOTHING`

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch inserts journal entries into vault.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	const cols = 8
	values := make([]string, 0, len(journals))
	args := make([]any, 0, len(journals)*cols)
	for i, j := range journals {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.Amount, j.JournalType,
		)
	}

	query := `INSERT INTO vault.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, amount, journal_type)
		VALUES ` + strings.Join(values, ", ") + ` ON CONFLICT (journal_id) DO NOTHING`

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)"
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+k)
	}
	b.WriteByte(')')
	return b.String()
}
