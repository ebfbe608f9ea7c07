package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"actiongate/internal/domain"
)

// HTTPExecutor forwards an action payload to an external executor endpoint.
// It is the reference capability implementation; one instance per action
// type, configured from actiongate.yml.
type HTTPExecutor struct {
	Type   string
	URL    string
	Client *http.Client
}

func (e *HTTPExecutor) ActionType() string { return e.Type }

func (e *HTTPExecutor) Execute(ctx context.Context, data map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"action_type": e.Type,
		"action_data": data,
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return e.post(ctx, e.URL, body)
}

func (e *HTTPExecutor) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return context.DeadlineExceeded
		}
		return fmt.Errorf("executor unreachable: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 256))
		return fmt.Errorf("executor rejected payload: status %d: %s", res.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

// AgentRunner posts planning-complete tasks to the agent service.
type AgentRunner struct {
	BaseURL string
	Client  *http.Client
	Timeout time.Duration
}

func (a *AgentRunner) Run(ctx context.Context, task domain.Task) Result {
	if task.AssignedAgentID == nil || *task.AssignedAgentID == "" {
		return failure("no agent assigned")
	}
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload := map[string]any{
		"task_id": task.ID,
		"title":   task.Title,
	}
	if task.WorkspaceID != nil {
		payload["workspace_id"] = *task.WorkspaceID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return failuref("encode task payload: %v", err)
	}
	url := fmt.Sprintf("%s/agents/%s/tasks", a.BaseURL, *task.AssignedAgentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return failure(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return failuref("agent dispatch timed out after %s", timeout)
		}
		return failuref("agent unreachable: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 256))
		return failuref("agent rejected task: status %d: %s", res.StatusCode, bytes.TrimSpace(snippet))
	}
	return success()
}
