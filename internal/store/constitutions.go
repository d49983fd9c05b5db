package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ambientlabs/halo/internal/constitution"
)

// ConstitutionRow is one persisted constitution version.
type ConstitutionRow struct {
	Version   int
	Rules     []constitution.Rule
	CreatedAt time.Time
}

// SaveConstitution persists a published version. Versions are
// immutable, so an existing row is never overwritten.
func (db *DB) SaveConstitution(version int, rules []constitution.Rule, createdAt time.Time) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO constitutions (version, rules, created_at) VALUES (?, ?, ?)
	`, version, string(data), createdAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save constitution v%d: %w", version, err)
	}
	return nil
}

// ListConstitutions returns every persisted version in ascending order.
func (db *DB) ListConstitutions() ([]ConstitutionRow, error) {
	rows, err := db.Query(`SELECT version, rules, created_at FROM constitutions ORDER BY version ASC`)
	if err != nil {
		return nil, fmt.Errorf("list constitutions: %w", err)
	}
	defer rows.Close()

	var out []ConstitutionRow
	for rows.Next() {
		var (
			row     ConstitutionRow
			data    string
			created int64
		)
		if err := rows.Scan(&row.Version, &data, &created); err != nil {
			return nil, fmt.Errorf("scan constitution: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &row.Rules); err != nil {
			return nil, fmt.Errorf("unmarshal rules v%d: %w", row.Version, err)
		}
		row.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, row)
	}
	return out, rows.Err()
}
