package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"attendance-portal/internal/store"
)

// Repository persists the academic hierarchy in Postgres.
type Repository struct {
	db store.Execer
}

// NewRepository creates a repo.
func NewRepository(db store.Execer) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateBranch(ctx context.Context, name string) (Branch, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Branch{}, fmt.Errorf("%w: branch name required", ErrValidation)
	}
	b := Branch{ID: uuid.NewString(), Name: name}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO branches (id, name) VALUES ($1, $2) RETURNING created_at`,
		b.ID, b.Name,
	).Scan(&b.CreatedAt)
	return b, mapWriteErr(err)
}

func (r *Repository) ListBranches(ctx context.Context) ([]Branch, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, created_at FROM branches ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Branch
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.ID, &b.Name, &b.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r *Repository) CreateBatch(ctx context.Context, branchID, name string) (Batch, error) {
	name = strings.TrimSpace(name)
	if branchID == "" || name == "" {
		return Batch{}, fmt.Errorf("%w: branch and batch name required", ErrValidation)
	}
	if strings.EqualFold(name, AllBatches) {
		return Batch{}, fmt.Errorf("%w: %q is reserved", ErrValidation, AllBatches)
	}
	b := Batch{ID: uuid.NewString(), BranchID: branchID, Name: name}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO batches (id, branch_id, name) VALUES ($1, $2, $3) RETURNING created_at`,
		b.ID, b.BranchID, b.Name,
	).Scan(&b.CreatedAt)
	return b, mapWriteErr(err)
}

func (r *Repository) ListBatches(ctx context.Context, branchID string) ([]Batch, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, branch_id, name, created_at FROM batches WHERE branch_id = $1 ORDER BY name`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.BranchID, &b.Name, &b.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r *Repository) CreateSubject(ctx context.Context, branchID, name, code string) (Subject, error) {
	name = strings.TrimSpace(name)
	if branchID == "" || name == "" {
		return Subject{}, fmt.Errorf("%w: branch and subject name required", ErrValidation)
	}
	s := Subject{ID: uuid.NewString(), BranchID: branchID, Name: name, Code: strings.TrimSpace(code)}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO subjects (id, branch_id, name, code) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		s.ID, s.BranchID, s.Name, s.Code,
	).Scan(&s.CreatedAt)
	return s, mapWriteErr(err)
}

// ListSubjects returns every subject of a branch, or all subjects when branchID is empty.
func (r *Repository) ListSubjects(ctx context.Context, branchID string) ([]Subject, error) {
	query := `SELECT id, branch_id, name, code, created_at FROM subjects`
	args := []any{}
	if branchID != "" {
		query += ` WHERE branch_id = $1`
		args = append(args, branchID)
	}
	query += ` ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Subject
	for rows.Next() {
		var s Subject
		if err := rows.Scan(&s.ID, &s.BranchID, &s.Name, &s.Code, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r *Repository) GetSubject(ctx context.Context, id string) (Subject, error) {
	var s Subject
	err := r.db.QueryRowContext(ctx,
		`SELECT id, branch_id, name, code, created_at FROM subjects WHERE id = $1`, id,
	).Scan(&s.ID, &s.BranchID, &s.Name, &s.Code, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Subject{}, ErrNotFound
	}
	return s, err
}

func (r *Repository) CreateUser(ctx context.Context, u User) (User, error) {
	u.Name = strings.TrimSpace(u.Name)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Name == "" || u.Email == "" || !u.Role.Valid() {
		return User{}, fmt.Errorf("%w: name, email and a valid role required", ErrValidation)
	}
	if u.Role == RoleStudent && (u.BranchID == "" || u.BatchID == "") {
		return User{}, fmt.Errorf("%w: students need a branch and batch", ErrValidation)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, name, email, role, branch_id, batch_id, roll_no)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)
		RETURNING created_at
	`, u.ID, u.Name, u.Email, string(u.Role), u.BranchID, u.BatchID, u.RollNo).Scan(&u.CreatedAt)
	return u, mapWriteErr(err)
}

const userColumns = `id, name, email, role, COALESCE(branch_id, ''), COALESCE(batch_id, ''), roll_no, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	var role string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &u.BranchID, &u.BatchID, &u.RollNo, &u.CreatedAt); err != nil {
		return User{}, err
	}
	u.Role = Role(role)
	return u, nil
}

// GetUser returns a user by id, ErrNotFound when absent.
func (r *Repository) GetUser(ctx context.Context, id string) (User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// ListStudents returns the students of a branch, narrowed to one batch unless
// batchID is empty or AllBatches.
func (r *Repository) ListStudents(ctx context.Context, branchID, batchID string) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = 'student' AND branch_id = $1`
	args := []any{branchID}
	if batchID != "" && batchID != AllBatches {
		query += ` AND batch_id = $2`
		args = append(args, batchID)
	}
	query += ` ORDER BY roll_no, name`
	return r.listUsers(ctx, query, args...)
}

func (r *Repository) ListFaculty(ctx context.Context) ([]User, error) {
	return r.listUsers(ctx, `SELECT `+userColumns+` FROM users WHERE role = 'faculty' ORDER BY name`)
}

func (r *Repository) listUsers(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r *Repository) AssignFaculty(ctx context.Context, a FacultyAssignment) (FacultyAssignment, error) {
	if a.FacultyID == "" || a.BranchID == "" || a.SubjectID == "" {
		return FacultyAssignment{}, fmt.Errorf("%w: faculty, branch and subject required", ErrValidation)
	}
	if a.BatchID == "" {
		a.BatchID = AllBatches
	}
	a.ID = uuid.NewString()
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO faculty_assignments (id, faculty_id, branch_id, batch_id, subject_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, a.ID, a.FacultyID, a.BranchID, a.BatchID, a.SubjectID).Scan(&a.CreatedAt)
	return a, mapWriteErr(err)
}

func (r *Repository) DeleteAssignment(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM faculty_assignments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignmentsByFaculty returns every teaching assignment of a faculty member.
func (r *Repository) AssignmentsByFaculty(ctx context.Context, facultyID string) ([]FacultyAssignment, error) {
	return r.listAssignments(ctx, `WHERE faculty_id = $1`, facultyID)
}

// AssignmentsByBranch returns every teaching assignment inside a branch.
func (r *Repository) AssignmentsByBranch(ctx context.Context, branchID string) ([]FacultyAssignment, error) {
	return r.listAssignments(ctx, `WHERE branch_id = $1`, branchID)
}

func (r *Repository) listAssignments(ctx context.Context, where string, arg string) ([]FacultyAssignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, faculty_id, branch_id, batch_id, subject_id, created_at
		FROM faculty_assignments `+where+`
		ORDER BY branch_id, subject_id, batch_id
	`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []FacultyAssignment
	for rows.Next() {
		var a FacultyAssignment
		if err := rows.Scan(&a.ID, &a.FacultyID, &a.BranchID, &a.BatchID, &a.SubjectID, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// SetCoordinator makes facultyID the coordinator of branchID, replacing any
// previous coordinator of that branch.
func (r *Repository) SetCoordinator(ctx context.Context, facultyID, branchID string) (CoordinatorAssignment, error) {
	if facultyID == "" || branchID == "" {
		return CoordinatorAssignment{}, fmt.Errorf("%w: faculty and branch required", ErrValidation)
	}
	c := CoordinatorAssignment{FacultyID: facultyID, BranchID: branchID}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO coordinators (faculty_id, branch_id)
		VALUES ($1, $2)
		ON CONFLICT (branch_id) DO UPDATE SET faculty_id = EXCLUDED.faculty_id, created_at = now()
		RETURNING created_at
	`, facultyID, branchID).Scan(&c.CreatedAt)
	return c, mapWriteErr(err)
}

// CoordinatorByFaculty returns the branches a faculty member coordinates.
func (r *Repository) CoordinatorByFaculty(ctx context.Context, facultyID string) ([]CoordinatorAssignment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT faculty_id, branch_id, created_at FROM coordinators WHERE faculty_id = $1 ORDER BY branch_id`, facultyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []CoordinatorAssignment
	for rows.Next() {
		var c CoordinatorAssignment
		if err := rows.Scan(&c.FacultyID, &c.BranchID, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// IsCoordinator reports whether facultyID coordinates branchID.
func (r *Repository) IsCoordinator(ctx context.Context, facultyID, branchID string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM coordinators WHERE faculty_id = $1 AND branch_id = $2)`,
		facultyID, branchID,
	).Scan(&ok)
	return ok, err
}

func mapWriteErr(err error) error {
	switch {
	case err == nil:
		return nil
	case store.IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	case store.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: referenced row missing: %v", ErrValidation, err)
	default:
		return store.MapError(err)
	}
}
