package marks

import (
	"context"
	"database/sql"
	"fmt"

	"attendance-portal/internal/store"
)

// Repository persists marks in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const markColumns = `id, student_id, subject_id, faculty_id, mid_sem_type, marks_obtained, max_marks, created_at, updated_at`

// Save upserts every mark in one transaction. The id of an existing row is kept.
func (r *Repository) Save(ctx context.Context, marks []Mark) error {
	const query = `
INSERT INTO marks (id, student_id, subject_id, faculty_id, mid_sem_type, marks_obtained, max_marks)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (student_id, subject_id, mid_sem_type)
DO UPDATE SET
	faculty_id = EXCLUDED.faculty_id,
	marks_obtained = EXCLUDED.marks_obtained,
	max_marks = EXCLUDED.max_marks,
	updated_at = now()
`
	return store.MapError(store.WithTx(ctx, r.db, func(ctx context.Context, tx store.Execer) error {
		for _, m := range marks {
			if _, err := tx.ExecContext(ctx, query,
				m.ID, m.StudentID, m.SubjectID, m.FacultyID, string(m.MidSemType), m.MarksObtained, m.MaxMarks,
			); err != nil {
				return fmt.Errorf("upsert marks for %s: %w", m.StudentID, err)
			}
		}
		return nil
	}))
}

// ListBySubject returns a subject's marks, optionally for one test only.
func (r *Repository) ListBySubject(ctx context.Context, subjectID string, midSem MidSem) ([]Mark, error) {
	if midSem == "" {
		return r.query(ctx, `SELECT `+markColumns+` FROM marks WHERE subject_id = $1 ORDER BY student_id, mid_sem_type`, subjectID)
	}
	return r.query(ctx, `SELECT `+markColumns+` FROM marks WHERE subject_id = $1 AND mid_sem_type = $2 ORDER BY student_id`,
		subjectID, string(midSem))
}

func (r *Repository) ListByStudent(ctx context.Context, studentID string) ([]Mark, error) {
	return r.query(ctx, `SELECT `+markColumns+` FROM marks WHERE student_id = $1 ORDER BY subject_id, mid_sem_type`, studentID)
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]Mark, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.MapError(err)
	}
	defer rows.Close()
	var res []Mark
	for rows.Next() {
		var m Mark
		var midSem string
		if err := rows.Scan(&m.ID, &m.StudentID, &m.SubjectID, &m.FacultyID, &midSem,
			&m.MarksObtained, &m.MaxMarks, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.MidSemType = MidSem(midSem)
		res = append(res, m)
	}
	return res, rows.Err()
}
