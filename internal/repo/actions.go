package repo

import (
	"context"
	"database/sql"
	"strings"

	"actiongate/internal/domain"
)

const actionColumns = `id,action_type,action_data_json,context_data_json,risk_level,status,edited_data_json,user_feedback,executed_at,created_at,updated_at`

func scanAction(scan func(dest ...any) error) (domain.Action, error) {
	var a domain.Action
	var contextData, editedData, feedback, executedAt sql.NullString
	err := scan(&a.ID, &a.ActionType, &a.ActionDataJSON, &contextData, &a.RiskLevel, &a.Status, &editedData, &feedback, &executedAt, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if contextData.Valid {
		a.ContextDataJSON = &contextData.String
	}
	if editedData.Valid {
		a.EditedDataJSON = &editedData.String
	}
	if feedback.Valid {
		a.UserFeedback = &feedback.String
	}
	if executedAt.Valid {
		a.ExecutedAt = &executedAt.String
	}
	return a, nil
}

func (r Repo) InsertAction(ctx context.Context, tx *sql.Tx, a domain.Action) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO actions(`+actionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ActionType, a.ActionDataJSON, nullableStringPtr(a.ContextDataJSON), a.RiskLevel, a.Status,
		nullableStringPtr(a.EditedDataJSON), nullableStringPtr(a.UserFeedback), nullableStringPtr(a.ExecutedAt),
		a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAction(ctx context.Context, id string) (domain.Action, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id=?`, id)
	return scanAction(row.Scan)
}

type ActionFilters struct {
	Status     string
	ActionType string
	RiskLevel  string
	Limit      int
	Offset     int
}

func (r Repo) ListActions(ctx context.Context, f ActionFilters) ([]domain.Action, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ActionType != "" {
		clauses = append(clauses, "action_type=?")
		args = append(args, f.ActionType)
	}
	if f.RiskLevel != "" {
		clauses = append(clauses, "risk_level=?")
		args = append(args, f.RiskLevel)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + actionColumns + ` FROM actions ` + where + ` ORDER BY created_at DESC, id DESC`
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
	var res []domain.Action
	for rows.Next() {
		a, err := scanAction(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ActionTransition is the single-row review-state change. The WHERE clause
// re-checks status='pending' so concurrent reviewers serialize on the store:
// exactly one UPDATE lands, the rest see zero rows affected.
type ActionTransition struct {
	ID         string
	NewStatus  string
	EditedData *string
	Feedback   *string
	UpdatedAt  string
}

func (r Repo) TransitionAction(ctx context.Context, tx *sql.Tx, t ActionTransition) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE actions SET status=?, edited_data_json=COALESCE(?, edited_data_json), user_feedback=COALESCE(?, user_feedback), updated_at=?
		 WHERE id=? AND status=?`,
		t.NewStatus, nullableStringPtr(t.EditedData), nullableStringPtr(t.Feedback), t.UpdatedAt, t.ID, domain.ActionPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkActionExecuted sets executed_at first-write-wins. Returns false when
// the timestamp was already set (the original value is preserved).
func (r Repo) MarkActionExecuted(ctx context.Context, id, executedAt, updatedAt string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE actions SET executed_at=?, updated_at=? WHERE id=? AND executed_at IS NULL`,
		executedAt, updatedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
