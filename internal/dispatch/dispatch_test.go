package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actiongate/internal/dispatch"
	"actiongate/internal/domain"
)

type fakeExecutor struct {
	actionType string
	err        error
	block      bool
	calls      int
}

func (f *fakeExecutor) ActionType() string { return f.actionType }

func (f *fakeExecutor) Execute(ctx context.Context, data map[string]any) error {
	f.calls++
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func TestDispatchNoExecutor(t *testing.T) {
	d := dispatch.New(time.Second)
	res := d.Dispatch(context.Background(), "send_email", nil)
	assert.False(t, res.OK)
	assert.Contains(t, res.Err, `no executor registered for action type "send_email"`)
}

func TestDispatchSuccessAndFailure(t *testing.T) {
	d := dispatch.New(time.Second)
	ok := &fakeExecutor{actionType: "send_email"}
	bad := &fakeExecutor{actionType: "create_ticket", err: errors.New("executor rejected payload: status 500: boom")}
	d.Register(ok)
	d.Register(bad)

	res := d.Dispatch(context.Background(), "send_email", map[string]any{"to": "x"})
	assert.True(t, res.OK)
	assert.Empty(t, res.Err)
	assert.Equal(t, 1, ok.calls)

	res = d.Dispatch(context.Background(), "create_ticket", nil)
	assert.False(t, res.OK)
	assert.Contains(t, res.Err, "rejected payload")
}

func TestDispatchTimeout(t *testing.T) {
	d := dispatch.New(20 * time.Millisecond)
	d.Register(&fakeExecutor{actionType: "slow", block: true})
	res := d.Dispatch(context.Background(), "slow", nil)
	assert.False(t, res.OK)
	assert.Contains(t, res.Err, "timed out after")
}

func TestHTTPExecutor(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, jsonDecode(r, &gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ex := &dispatch.HTTPExecutor{Type: "send_email", URL: srv.URL}
	err := ex.Execute(context.Background(), map[string]any{"to": "user@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "send_email", gotBody["action_type"])
	data, ok := gotBody["action_data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "user@example.com", data["to"])
}

func TestHTTPExecutorRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	ex := &dispatch.HTTPExecutor{Type: "send_email", URL: srv.URL}
	err := ex.Execute(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executor rejected payload: status 400")
}

func TestAgentRunner(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, jsonDecode(r, &gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	agent := "agent-7"
	ws := "ws-1"
	runner := &dispatch.AgentRunner{BaseURL: srv.URL}
	res := runner.Run(context.Background(), domain.Task{
		ID:              "t-1",
		Title:           "build feature",
		AssignedAgentID: &agent,
		WorkspaceID:     &ws,
	})
	require.True(t, res.OK, res.Err)
	assert.Equal(t, "/agents/agent-7/tasks", gotPath)
	assert.Equal(t, "t-1", gotBody["task_id"])
	assert.Equal(t, "ws-1", gotBody["workspace_id"])
}

func TestAgentRunnerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	agent := "agent-7"
	runner := &dispatch.AgentRunner{BaseURL: srv.URL}
	res := runner.Run(context.Background(), domain.Task{ID: "t-1", Title: "x", AssignedAgentID: &agent})
	assert.False(t, res.OK)
	assert.Contains(t, res.Err, "agent rejected task: status 503")
}

func jsonDecode(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}
