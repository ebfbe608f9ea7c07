package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"actiongate/internal/domain"
)

const taskColumns = `id,title,assigned_agent_id,workspace_id,planning_complete,status,planning_dispatch_error,created_at,updated_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var agentID, workspaceID, dispatchErr sql.NullString
	err := scan(&t.ID, &t.Title, &agentID, &workspaceID, &t.PlanningComplete, &t.Status, &dispatchErr, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if agentID.Valid {
		t.AssignedAgentID = &agentID.String
	}
	if workspaceID.Valid {
		t.WorkspaceID = &workspaceID.String
	}
	if dispatchErr.Valid {
		t.PlanningDispatchError = &dispatchErr.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullableStringPtr(t.AssignedAgentID), nullableStringPtr(t.WorkspaceID),
		t.PlanningComplete, t.Status, nullableStringPtr(t.PlanningDispatchError), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

type TaskFilters struct {
	Status string
	Limit  int
	Offset int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

type TaskUpdate struct {
	Title            *string
	AssignAgent      *string
	WorkspaceID      *string
	PlanningComplete *bool
}

func (r Repo) UpdateTask(ctx context.Context, id string, u TaskUpdate, updatedAt string) error {
	var fields []string
	var args []any
	if u.Title != nil {
		fields = append(fields, "title=?")
		args = append(args, *u.Title)
	}
	if u.AssignAgent != nil {
		fields = append(fields, "assigned_agent_id=?")
		args = append(args, nullable(*u.AssignAgent))
	}
	if u.WorkspaceID != nil {
		fields = append(fields, "workspace_id=?")
		args = append(args, nullable(*u.WorkspaceID))
	}
	if u.PlanningComplete != nil {
		fields = append(fields, "planning_complete=?")
		args = append(args, *u.PlanningComplete)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDispatchOutcome applies a dispatch result as one atomic write: status
// and error field always move together, so no observer can see a task in
// inbox with a stale error string.
func (r Repo) SetDispatchOutcome(ctx context.Context, tx *sql.Tx, id, status string, dispatchErr *string, updatedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status=?, planning_dispatch_error=?, updated_at=? WHERE id=?`,
		status, nullableStringPtr(dispatchErr), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordDispatchFault persists a controller-level fault. Deliberately not
// part of the atomic outcome write: the fault happened outside the normal
// success/failure branch, and the priority is making it visible to a human.
func (r Repo) RecordDispatchFault(ctx context.Context, id, message, updatedAt string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE tasks SET planning_dispatch_error=?, updated_at=? WHERE id=?`,
		message, updatedAt, id)
	return err
}
