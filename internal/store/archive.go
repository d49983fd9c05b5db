package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ambientlabs/halo/internal/ledger"
	"github.com/ambientlabs/halo/internal/mediation"
)

// ArchiveReceipt persists a receipt that left the ledger window.
func (db *DB) ArchiveReceipt(r *mediation.Receipt) error {
	findings, err := json.Marshal(r.Findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO receipts (receipt_id, event_id, actor, claim_text, constitution_version, findings, weight, created_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.EventID, r.Actor, r.ClaimText, r.ConstitutionVersion,
		string(findings), r.Weight, r.CreatedAt.UnixMilli(), now)
	if err != nil {
		return fmt.Errorf("archive receipt %s: %w", r.ID, err)
	}
	return nil
}

// ArchivedReceipts loads receipts archived with created_at at or after
// since, ascending.
func (db *DB) ArchivedReceipts(since time.Time) ([]*mediation.Receipt, error) {
	rows, err := db.Query(`
		SELECT receipt_id, event_id, actor, claim_text, constitution_version, findings, weight, created_at
		FROM receipts WHERE created_at >= ? ORDER BY created_at ASC
	`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query archived receipts: %w", err)
	}
	defer rows.Close()

	var out []*mediation.Receipt
	for rows.Next() {
		var (
			r        mediation.Receipt
			findings string
			created  int64
		)
		if err := rows.Scan(&r.ID, &r.EventID, &r.Actor, &r.ClaimText,
			&r.ConstitutionVersion, &findings, &r.Weight, &created); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		if err := json.Unmarshal([]byte(findings), &r.Findings); err != nil {
			return nil, fmt.Errorf("unmarshal findings for %s: %w", r.ID, err)
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}

// UpsertSummary persists a memory summary bucket. Open buckets are
// rewritten on each pass; closed buckets settle once and stay put.
func (db *DB) UpsertSummary(s ledger.Summary) error {
	findings, err := json.Marshal(s.AggregatedFindings)
	if err != nil {
		return fmt.Errorf("marshal aggregated findings: %w", err)
	}
	closed := 0
	if s.Closed {
		closed = 1
	}
	_, err = db.Exec(`
		INSERT INTO summaries (period_start, period_end, findings, entry_count, closed, digest)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(period_start) DO UPDATE SET
			findings = excluded.findings,
			entry_count = excluded.entry_count,
			closed = excluded.closed,
			digest = excluded.digest
	`, s.PeriodStart.Unix(), s.PeriodEnd.Unix(), string(findings), s.EntryCount, closed, s.Digest)
	if err != nil {
		return fmt.Errorf("upsert summary %d: %w", s.PeriodStart.Unix(), err)
	}
	return nil
}

// LoadSummaries returns every persisted summary ascending by period.
func (db *DB) LoadSummaries() ([]ledger.Summary, error) {
	rows, err := db.Query(`
		SELECT period_start, period_end, findings, entry_count, closed, digest
		FROM summaries ORDER BY period_start ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []ledger.Summary
	for rows.Next() {
		var (
			s          ledger.Summary
			start, end int64
			findings   string
			closed     int
			digest     *string
		)
		if err := rows.Scan(&start, &end, &findings, &s.EntryCount, &closed, &digest); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		if err := json.Unmarshal([]byte(findings), &s.AggregatedFindings); err != nil {
			return nil, fmt.Errorf("unmarshal summary findings: %w", err)
		}
		s.PeriodStart = time.Unix(start, 0).UTC()
		s.PeriodEnd = time.Unix(end, 0).UTC()
		s.Closed = closed != 0
		if digest != nil {
			s.Digest = *digest
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// VibeRow is one persisted tension observation.
type VibeRow struct {
	Timestamp time.Time
	Score     float64
	Level     string
	Notify    bool
}

// AddVibePoint records a tension observation.
func (db *DB) AddVibePoint(ts time.Time, score float64, level string, notify bool) error {
	n := 0
	if notify {
		n = 1
	}
	_, err := db.Exec(`
		INSERT INTO vibe_points (ts, score, level, notify) VALUES (?, ?, ?, ?)
	`, ts.UnixMilli(), score, level, n)
	if err != nil {
		return fmt.Errorf("add vibe point: %w", err)
	}
	return nil
}

// VibeHistory returns observations at or after since, ascending.
func (db *DB) VibeHistory(since time.Time) ([]VibeRow, error) {
	rows, err := db.Query(`
		SELECT ts, score, level, notify FROM vibe_points WHERE ts >= ? ORDER BY ts ASC
	`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query vibe history: %w", err)
	}
	defer rows.Close()

	var out []VibeRow
	for rows.Next() {
		var (
			row    VibeRow
			ts     int64
			notify int
		)
		if err := rows.Scan(&ts, &row.Score, &row.Level, &notify); err != nil {
			return nil, fmt.Errorf("scan vibe point: %w", err)
		}
		row.Timestamp = time.UnixMilli(ts).UTC()
		row.Notify = notify != 0
		out = append(out, row)
	}
	return out, rows.Err()
}

// PruneVibePoints deletes observations older than cutoff and returns
// how many were removed.
func (db *DB) PruneVibePoints(cutoff time.Time) (int, error) {
	res, err := db.Exec(`DELETE FROM vibe_points WHERE ts < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune vibe points: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
