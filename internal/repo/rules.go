package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"actiongate/internal/domain"
)

const ruleColumns = `id,action_type,conditions_json,enabled,priority,trigger_count,success_rate,created_at,updated_at`

func scanRule(scan func(dest ...any) error) (domain.Rule, error) {
	var rl domain.Rule
	err := scan(&rl.ID, &rl.ActionType, &rl.ConditionsJSON, &rl.Enabled, &rl.Priority, &rl.TriggerCount, &rl.SuccessRate, &rl.CreatedAt, &rl.UpdatedAt)
	if err == sql.ErrNoRows {
		return rl, ErrNotFound
	}
	return rl, err
}

func (r Repo) InsertRule(ctx context.Context, tx *sql.Tx, rl domain.Rule) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO rules(`+ruleColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		rl.ID, rl.ActionType, rl.ConditionsJSON, rl.Enabled, rl.Priority, rl.TriggerCount, rl.SuccessRate, rl.CreatedAt, rl.UpdatedAt)
	return err
}

func (r Repo) GetRule(ctx context.Context, id string) (domain.Rule, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id=?`, id)
	return scanRule(row.Scan)
}

type RuleFilters struct {
	ActionType  string
	EnabledOnly bool
}

// ListRules returns rules in evaluation order: priority ascending, creation
// order breaking ties. Nothing downstream may rely on incidental store order.
func (r Repo) ListRules(ctx context.Context, f RuleFilters) ([]domain.Rule, error) {
	var clauses []string
	var args []any
	if f.ActionType != "" {
		clauses = append(clauses, "action_type=?")
		args = append(args, f.ActionType)
	}
	if f.EnabledOnly {
		clauses = append(clauses, "enabled=1")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ruleColumns+` FROM rules `+where+` ORDER BY priority ASC, rowid ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Rule
	for rows.Next() {
		rl, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rl)
	}
	return res, rows.Err()
}

type RuleUpdate struct {
	Enabled     *bool
	SuccessRate *float64
	Priority    *int
}

func (r Repo) UpdateRule(ctx context.Context, id string, u RuleUpdate, updatedAt string) error {
	var fields []string
	var args []any
	if u.Enabled != nil {
		fields = append(fields, "enabled=?")
		args = append(args, *u.Enabled)
	}
	if u.SuccessRate != nil {
		fields = append(fields, "success_rate=?")
		args = append(args, *u.SuccessRate)
	}
	if u.Priority != nil {
		fields = append(fields, "priority=?")
		args = append(args, *u.Priority)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE rules SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteRule(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM rules WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementTrigger bumps trigger_count inside the creation transaction so an
// auto-approval and its counter move together.
func (r Repo) IncrementTrigger(ctx context.Context, tx *sql.Tx, id, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE rules SET trigger_count=trigger_count+1, updated_at=? WHERE id=?`, updatedAt, id)
	return err
}
