package domain

// Action statuses. An action leaves "pending" exactly once; execution is
// tracked separately via ExecutedAt so a reviewed action that fails to
// execute stays observable.
const (
	ActionPending      = "pending"
	ActionApproved     = "approved"
	ActionDenied       = "denied"
	ActionEdited       = "edited"
	ActionAutoApproved = "auto_approved"
)

// Task dispatch statuses owned by this core. Other lifecycle states exist
// outside it and pass through untouched.
const (
	TaskPendingDispatch = "pending_dispatch"
	TaskInbox           = "inbox"
)

const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

type Action struct {
	ID              string  `json:"id"`
	ActionType      string  `json:"action_type"`
	ActionDataJSON  string  `json:"action_data_json"`
	ContextDataJSON *string `json:"context_data_json,omitempty"`
	RiskLevel       string  `json:"risk_level" enum:"low,medium,high"`
	Status          string  `json:"status" enum:"pending,approved,denied,edited,auto_approved"`
	EditedDataJSON  *string `json:"edited_data_json,omitempty"`
	UserFeedback    *string `json:"user_feedback,omitempty"`
	ExecutedAt      *string `json:"executed_at,omitempty" format:"date-time"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

// Reviewed reports whether the action has left the pending state.
func (a Action) Reviewed() bool {
	return a.Status != ActionPending
}

type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator" enum:"eq,neq,contains,gt,gte,lt,lte"`
	Value    any    `json:"value"`
}

type Rule struct {
	ID             string  `json:"id"`
	ActionType     string  `json:"action_type"`
	ConditionsJSON string  `json:"conditions_json"`
	Enabled        bool    `json:"enabled"`
	Priority       int     `json:"priority"`
	TriggerCount   int     `json:"trigger_count"`
	SuccessRate    float64 `json:"success_rate"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID                    string  `json:"id"`
	Title                 string  `json:"title"`
	AssignedAgentID       *string `json:"assigned_agent_id,omitempty"`
	WorkspaceID           *string `json:"workspace_id,omitempty"`
	PlanningComplete      bool    `json:"planning_complete"`
	Status                string  `json:"status"`
	PlanningDispatchError *string `json:"planning_dispatch_error,omitempty"`
	CreatedAt             string  `json:"created_at" format:"date-time"`
	UpdatedAt             string  `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
