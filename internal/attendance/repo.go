package attendance

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"attendance-portal/internal/store"
)

// Store is the attendance persistence the services depend on.
type Store interface {
	List(ctx context.Context, f Filter) ([]Record, error)
	GetByIDs(ctx context.Context, ids []string) ([]Record, error)
	Upsert(ctx context.Context, records []Record) error
	DeleteByIDs(ctx context.Context, ids []string) error
	DeleteForOverwrite(ctx context.Context, key OverwriteKey) error
	// Replace deletes ids and upserts records in one transaction.
	Replace(ctx context.Context, ids []string, records []Record) error
	// ReplaceSlot clears the overwrite key and upserts records in one transaction.
	ReplaceSlot(ctx context.Context, key OverwriteKey, records []Record) error
}

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, date::text, student_id, subject_id, branch_id, batch_id, is_present, marked_by, ts, lecture_slot, reason`

// List returns records matching the filter ordered by date, slot and student.
func (r *Repository) List(ctx context.Context, f Filter) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM attendance`
	args := []any{}
	clauses := []string{}
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.BranchID != "" {
		add("branch_id = $%d", f.BranchID)
	}
	if f.BatchID != "" && f.BatchID != "ALL" {
		add("batch_id = $%d", f.BatchID)
	}
	if f.SubjectID != "" {
		add("subject_id = $%d", f.SubjectID)
	}
	if f.StudentID != "" {
		add("student_id = $%d", f.StudentID)
	}
	if f.Date != "" {
		add("date = $%d::date", f.Date)
	}
	if f.From != "" {
		add("date >= $%d::date", f.From)
	}
	if f.To != "" {
		add("date <= $%d::date", f.To)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY date, lecture_slot, student_id, id"
	return queryRecords(ctx, r.db, query, args...)
}

func (r *Repository) GetByIDs(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return queryRecords(ctx, r.db, `SELECT `+recordColumns+` FROM attendance WHERE id = ANY($1) ORDER BY id`, ids)
}

// Upsert writes records keyed on the (date, student, subject, slot)
// coordinate, so re-saving a coordinate replaces the previous mark.
func (r *Repository) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	return store.MapError(store.WithTx(ctx, r.db, func(ctx context.Context, tx store.Execer) error {
		return upsert(ctx, tx, records)
	}))
}

func (r *Repository) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM attendance WHERE id = ANY($1)`, ids)
	return store.MapError(err)
}

func (r *Repository) DeleteForOverwrite(ctx context.Context, key OverwriteKey) error {
	_, err := r.db.ExecContext(ctx, deleteSlotQuery, key.Date, key.BranchID, key.Slot)
	return store.MapError(err)
}

func (r *Repository) Replace(ctx context.Context, ids []string, records []Record) error {
	return store.MapError(store.WithTx(ctx, r.db, func(ctx context.Context, tx store.Execer) error {
		if len(ids) > 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM attendance WHERE id = ANY($1)`, ids); err != nil {
				return err
			}
		}
		return upsert(ctx, tx, records)
	}))
}

func (r *Repository) ReplaceSlot(ctx context.Context, key OverwriteKey, records []Record) error {
	return store.MapError(store.WithTx(ctx, r.db, func(ctx context.Context, tx store.Execer) error {
		if _, err := tx.ExecContext(ctx, deleteSlotQuery, key.Date, key.BranchID, key.Slot); err != nil {
			return err
		}
		return upsert(ctx, tx, records)
	}))
}

const deleteSlotQuery = `DELETE FROM attendance WHERE date = $1::date AND branch_id = $2 AND lecture_slot = $3`

func upsert(ctx context.Context, tx store.Execer, records []Record) error {
	const query = `
INSERT INTO attendance (
	id, date, student_id, subject_id, branch_id, batch_id,
	is_present, marked_by, ts, lecture_slot, reason
) VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (date, student_id, subject_id, lecture_slot)
DO UPDATE SET
	branch_id = EXCLUDED.branch_id,
	batch_id = EXCLUDED.batch_id,
	is_present = EXCLUDED.is_present,
	marked_by = EXCLUDED.marked_by,
	ts = EXCLUDED.ts,
	reason = EXCLUDED.reason
`
	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, query,
			rec.ID, rec.Date, rec.StudentID, rec.SubjectID, rec.BranchID, rec.BatchID,
			rec.IsPresent, rec.MarkedBy, rec.Timestamp, rec.LectureSlot, rec.Reason,
		); err != nil {
			return fmt.Errorf("upsert %s: %w", rec.ID, err)
		}
	}
	return nil
}

func queryRecords(ctx context.Context, db store.Execer, query string, args ...any) ([]Record, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.MapError(err)
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Date, &rec.StudentID, &rec.SubjectID, &rec.BranchID, &rec.BatchID,
			&rec.IsPresent, &rec.MarkedBy, &rec.Timestamp, &rec.LectureSlot, &rec.Reason); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
