package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"actiongate/internal/config"
	"actiongate/internal/db"
	"actiongate/internal/dispatch"
	"actiongate/internal/domain"
	"actiongate/internal/engine"
	"actiongate/internal/migrate"
)

type stubDispatcher struct {
	result dispatch.Result
	calls  int
}

func (s *stubDispatcher) Dispatch(ctx context.Context, actionType string, data map[string]any) dispatch.Result {
	s.calls++
	return s.result
}

type stubRunner struct {
	result dispatch.Result
	calls  int
}

func (s *stubRunner) Run(ctx context.Context, task domain.Task) dispatch.Result {
	s.calls++
	return s.result
}

type testServer struct {
	URL     string
	client  *http.Client
	Actions *stubDispatcher
	Agents  *stubRunner
	close   func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	actions := &stubDispatcher{result: dispatch.Result{OK: true}}
	agents := &stubRunner{result: dispatch.Result{OK: true}}
	e := engine.New(conn, config.Default(), actions, agents)
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:     "http://" + ln.Addr().String(),
		client:  &http.Client{},
		Actions: actions,
		Agents:  agents,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env
}

func createAction(t *testing.T, srv *testServer, body map[string]any) CreateActionResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/actions", body, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create action status %d: %s", res.StatusCode, string(data))
	}
	var created CreateActionResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal action: %v", err)
	}
	return created
}

func TestHealth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestActionReviewAndExecute(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	created := createAction(t, srv, map[string]any{
		"action_type": "send_email",
		"action_data": map[string]any{"to": "user@example.com"},
		"risk_level":  "low",
	})
	if created.AutoApproved {
		t.Fatalf("no rules installed, expected pending, got auto-approved")
	}
	if created.Action.Status != "pending" {
		t.Fatalf("status = %q, want pending", created.Action.Status)
	}
	id := created.Action.ID

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/actions/"+id+"/approve", nil, map[string]string{"X-Actor-Id": "alice"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}

	// A second review must fail with a conflict naming the winning status.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/actions/"+id+"/deny", map[string]any{"feedback": "too late"}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("deny after approve status %d: %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "invalid_transition" {
		t.Fatalf("code = %q, want invalid_transition", env.Error.Code)
	}
	if env.Error.Details["status"] != "approved" {
		t.Fatalf("details.status = %v, want approved", env.Error.Details["status"])
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/actions/"+id+"/execute", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("execute status %d: %s", res.StatusCode, string(data))
	}
	var executed ActionResponse
	if err := json.Unmarshal(data, &executed); err != nil {
		t.Fatalf("unmarshal action: %v", err)
	}
	if executed.ExecutedAt == nil {
		t.Fatalf("executed_at not stamped")
	}
	if srv.Actions.calls != 1 {
		t.Fatalf("dispatcher calls = %d, want 1", srv.Actions.calls)
	}
}

func TestExecuteFailureIsBadGateway(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	srv.Actions.result = dispatch.Result{Err: "smtp unreachable"}

	created := createAction(t, srv, map[string]any{
		"action_type": "send_email",
		"action_data": map[string]any{"to": "x"},
		"risk_level":  "low",
	})
	id := created.Action.ID
	if res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/actions/"+id+"/approve", nil, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/actions/"+id+"/execute", nil, nil)
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("execute status %d: %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "execution_failed" {
		t.Fatalf("code = %q, want execution_failed", env.Error.Code)
	}

	// The action stays executable after the failure.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/actions/"+id, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	var a ActionResponse
	if err := json.Unmarshal(data, &a); err != nil {
		t.Fatalf("unmarshal action: %v", err)
	}
	if a.ExecutedAt != nil {
		t.Fatalf("executed_at stamped on failed execution")
	}
}

func TestDenyRequiresFeedback(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	created := createAction(t, srv, map[string]any{
		"action_type": "send_email",
		"action_data": map[string]any{"to": "x"},
		"risk_level":  "medium",
	})
	id := created.Action.ID

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/actions/"+id+"/deny", map[string]any{"feedback": ""}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("deny without feedback status %d: %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "validation_error" {
		t.Fatalf("code = %q, want validation_error", env.Error.Code)
	}
}

func TestAutoApproveMatchingRule(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/rules", map[string]any{
		"action_type": "send_email",
		"conditions":  []map[string]any{{"field": "amount", "operator": "lt", "value": 100}},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create rule status %d: %s", res.StatusCode, string(data))
	}
	var rule RuleResponse
	if err := json.Unmarshal(data, &rule); err != nil {
		t.Fatalf("unmarshal rule: %v", err)
	}

	created := createAction(t, srv, map[string]any{
		"action_type": "send_email",
		"action_data": map[string]any{"amount": 50},
		"risk_level":  "low",
	})
	if !created.AutoApproved {
		t.Fatalf("expected auto-approval, got status %q", created.Action.Status)
	}
	if created.RuleID != rule.ID {
		t.Fatalf("rule_id = %q, want %q", created.RuleID, rule.ID)
	}
	if created.Action.Status != "auto_approved" {
		t.Fatalf("status = %q, want auto_approved", created.Action.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/rules/"+rule.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get rule status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &rule); err != nil {
		t.Fatalf("unmarshal rule: %v", err)
	}
	if rule.TriggerCount != 1 {
		t.Fatalf("trigger_count = %d, want 1", rule.TriggerCount)
	}
}

func TestRuleSuccessRateValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/rules", map[string]any{
		"action_type": "send_email",
		"conditions":  []map[string]any{{"field": "amount", "operator": "lt", "value": 100}},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create rule status %d: %s", res.StatusCode, string(data))
	}
	var rule RuleResponse
	if err := json.Unmarshal(data, &rule); err != nil {
		t.Fatalf("unmarshal rule: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/rules/"+rule.ID, map[string]any{"success_rate": 1.5}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("patch out-of-range status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/rules/"+rule.ID, map[string]any{"success_rate": 0.85}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &rule); err != nil {
		t.Fatalf("unmarshal rule: %v", err)
	}
	if rule.SuccessRate != 0.85 {
		t.Fatalf("success_rate = %v, want 0.85", rule.SuccessRate)
	}
}

func TestActionNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/actions/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "not_found" {
		t.Fatalf("code = %q, want not_found", env.Error.Code)
	}
}

func TestTaskDispatchFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{"title": "index the repo"}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}

	// Planning not complete yet.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/dispatch", nil, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("dispatch status %d: %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "precondition_failed" {
		t.Fatalf("code = %q, want precondition_failed", env.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID, map[string]any{"planning_complete": true}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch task status %d: %s", res.StatusCode, string(data))
	}

	// Still no agent assigned.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/dispatch", nil, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("dispatch status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID, map[string]any{"assigned_agent_id": "agent-7"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch task status %d: %s", res.StatusCode, string(data))
	}

	// Agent endpoint down: the failure is durable and retryable.
	srv.Agents.result = dispatch.Result{Err: "agent rejected task: status 503: busy"}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/dispatch", nil, nil)
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("dispatch status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get task status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if task.Status != "pending_dispatch" {
		t.Fatalf("status = %q, want pending_dispatch", task.Status)
	}
	if task.DispatchError == nil {
		t.Fatalf("planning_dispatch_error not stored")
	}

	srv.Agents.result = dispatch.Result{OK: true}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/retry-dispatch", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("retry status %d: %s", res.StatusCode, string(data))
	}
	task = TaskResponse{}
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if task.Status != "inbox" {
		t.Fatalf("status = %q, want inbox", task.Status)
	}
	if task.DispatchError != nil {
		t.Fatalf("planning_dispatch_error not cleared: %v", *task.DispatchError)
	}
}

func TestEventsLog(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	created := createAction(t, srv, map[string]any{
		"action_type": "send_email",
		"action_data": map[string]any{"to": "x"},
		"risk_level":  "low",
	})
	if res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/actions/"+created.Action.ID+"/approve", nil, map[string]string{"X-Actor-Id": "alice"}); res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?entity_kind=action&entity_id="+created.Action.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("events = %d, want 2", len(page.Items))
	}
	// Newest first without a cursor.
	if page.Items[0].Type != "action.approved" || page.Items[1].Type != "action.created" {
		t.Fatalf("event order = %q, %q", page.Items[0].Type, page.Items[1].Type)
	}
	if page.Items[0].ActorID != "alice" {
		t.Fatalf("actor_id = %q, want alice", page.Items[0].ActorID)
	}
}
