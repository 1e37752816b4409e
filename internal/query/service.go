package query

import (
	"BondVault/internal/ledger"
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a projected row does not exist.
var ErrNotFound = errors.New("query: not found")

// QueryService provides read-only access to the projection tables and the
// journal. Responses carry as_of_sequence, the projection watermark they
// were read at.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

const positionColumns = `position_id, depositor, state, deposit_value, is_meta, curve_start,
	curve_count, accrued_yield, claimed_yield, sub_account, last_sequence`

func scanPosition(sc interface{ Scan(...any) error }, p *PositionRow) error {
	var id int64
	if err := sc.Scan(&id, &p.Depositor, &p.State, &p.DepositValue, &p.IsMeta, &p.CurveStart,
		&p.CurveCount, &p.AccruedYield, &p.ClaimedYield, &p.SubAccount, &p.LastSequence); err != nil {
		return err
	}
	p.PositionID = uint64(id)
	return nil
}

// GetPosition returns one projected position.
func (qs *QueryService) GetPosition(ctx context.Context, id uint64) (*PositionRow, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var p PositionRow
	err = scanPosition(qs.db.QueryRowContext(ctx, `
		SELECT `+positionColumns+`
		FROM vault.positions
		WHERE position_id = $1
	`, int64(id)), &p)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.AsOfSequence = asOfSeq
	return &p, nil
}

// GetPositionsByDepositor returns the active positions a depositor opened,
// ordered by id. Ownership transfers are not projected; use the live read
// for current owners.
func (qs *QueryService) GetPositionsByDepositor(ctx context.Context, depositor string) ([]PositionRow, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT `+positionColumns+`
		FROM vault.positions
		WHERE depositor = $1 AND state = 'Active'
		ORDER BY position_id
	`, depositor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions := make([]PositionRow, 0)
	for rows.Next() {
		var p PositionRow
		if err := scanPosition(rows, &p); err != nil {
			return nil, err
		}
		p.AsOfSequence = asOfSeq
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetEpochs returns yield epochs newest first. Cursor-based: afterEpoch
// (exclusive) pages backwards.
func (qs *QueryService) GetEpochs(ctx context.Context, limit int, afterEpoch *int64) ([]EpochRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT epoch_id, sequence, total_amount, total_locked, credited, dust, credit_count, timestamp
		FROM vault.yield_epochs`
	args := []any{}
	if afterEpoch != nil {
		query += ` WHERE epoch_id < $1`
		args = append(args, *afterEpoch)
	}
	query += fmt.Sprintf(` ORDER BY epoch_id DESC LIMIT %d`, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	epochs := make([]EpochRow, 0)
	for rows.Next() {
		var e EpochRow
		if err := rows.Scan(&e.EpochID, &e.Sequence, &e.TotalAmount, &e.TotalLocked,
			&e.Credited, &e.Dust, &e.CreditCount, &e.Timestamp); err != nil {
			return nil, err
		}
		epochs = append(epochs, e)
	}
	return epochs, rows.Err()
}

// GetJournalHistory returns the journal entries of one sequence range.
func (qs *QueryService) GetJournalHistory(ctx context.Context, fromSeq, toSeq int64) ([]JournalHistoryEntry, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT journal_id, batch_id, event_ref, sequence, debit_account, credit_account, amount, journal_type
		FROM vault.journal
		WHERE sequence BETWEEN $1 AND $2
		ORDER BY sequence, journal_id
	`, fromSeq, toSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]JournalHistoryEntry, 0)
	for rows.Next() {
		var j JournalHistoryEntry
		if err := rows.Scan(&j.JournalID, &j.BatchID, &j.EventRef, &j.Sequence,
			&j.DebitAccount, &j.CreditAccount, &j.Amount, &j.JournalType); err != nil {
			return nil, err
		}
		entries = append(entries, j)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the event hash chain and cross-checks journal
// totals against the position projection.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	report := &IntegrityReport{AsOfSequence: asOfSeq}

	// Each event's prev_hash must equal the previous event's state_hash
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM vault.events e1
		JOIN vault.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Totals only agree once the projection has caught up with the journal
	var locked, projectedLocked, accrued, projectedAccrued int64
	lockedPath := ledger.LockedAccount.AccountPath()
	if err := qs.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN debit_account = $1 THEN amount ELSE 0 END), 0)
			- COALESCE(SUM(CASE WHEN credit_account = $1 THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN debit_account LIKE 'position:%' THEN amount ELSE 0 END), 0)
			- COALESCE(SUM(CASE WHEN credit_account LIKE 'position:%' THEN amount ELSE 0 END), 0)
		FROM vault.journal
		WHERE sequence <= $2
	`, lockedPath, asOfSeq).Scan(&locked, &accrued); err != nil {
		return nil, fmt.Errorf("journal totals: %w", err)
	}
	if err := qs.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN state = 'Active' THEN deposit_value ELSE 0 END), 0),
			COALESCE(SUM(accrued_yield), 0)
		FROM vault.positions
	`).Scan(&projectedLocked, &projectedAccrued); err != nil {
		return nil, fmt.Errorf("projection totals: %w", err)
	}
	if locked != projectedLocked {
		report.Mismatches = append(report.Mismatches, Mismatch{Account: lockedPath, Journal: locked, Projection: projectedLocked})
	}
	if accrued != projectedAccrued {
		report.Mismatches = append(report.Mismatches, Mismatch{Account: "position:*:accrued_yield", Journal: accrued, Projection: projectedAccrued})
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.Mismatches) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM vault.projection_watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}
