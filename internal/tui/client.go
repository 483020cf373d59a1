package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fentz26/cfagents/internal/agents"
	"github.com/fentz26/cfagents/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the cfagents API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// Healthy reports whether the daemon answers /health with 200.
func (c *Client) Healthy() bool {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Status fetches the aggregate status view.
func (c *Client) Status() (*StatusSummary, error) {
	var st StatusSummary
	if err := c.get("/api/v1/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ListAgents fetches every agent, core pool first.
func (c *Client) ListAgents() ([]agents.Info, error) {
	var list []agents.Info
	err := c.get("/api/v1/agents", &list)
	return list, err
}

// Recommendations fetches up to limit skills suited to an agent.
func (c *Client) Recommendations(agent string, limit int) ([]models.Skill, error) {
	var list []models.Skill
	err := c.get(fmt.Sprintf("/api/v1/agents/%s/recommendations?max=%d", url.PathEscape(agent), limit), &list)
	return list, err
}

// ListSkills fetches the skills catalog.
func (c *Client) ListSkills() ([]models.Skill, error) {
	var list []models.Skill
	err := c.get("/api/v1/skills", &list)
	return list, err
}

// ListMessages fetches the newest persisted messages, optionally for one agent.
func (c *Client) ListMessages(agent string, limit int) ([]models.Message, error) {
	q := url.Values{}
	if agent != "" {
		q.Set("agent", agent)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/api/v1/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var list []models.Message
	err := c.get(path, &list)
	return list, err
}

// AttachSkill attaches a skill to an agent.
func (c *Client) AttachSkill(agent, skill string) error {
	_, err := c.send(http.MethodPost, "/api/v1/agents/"+url.PathEscape(agent)+"/skills", map[string]string{"skill": skill})
	return err
}

// DetachSkill removes a skill from an agent.
func (c *Client) DetachSkill(agent, skill string) error {
	_, err := c.send(http.MethodDelete, "/api/v1/agents/"+url.PathEscape(agent)+"/skills/"+url.PathEscape(skill), nil)
	return err
}

// ResetAgent returns an agent to idle.
func (c *Client) ResetAgent(agent string) error {
	_, err := c.send(http.MethodPost, "/api/v1/agents/"+url.PathEscape(agent)+"/reset", nil)
	return err
}

// Delegate publishes a task_request from one agent to another.
func (c *Client) Delegate(from, to, action string) (string, error) {
	body := map[string]any{
		"from":    from,
		"to":      to,
		"details": map[string]any{"action": action},
	}
	resp, err := c.send(http.MethodPost, "/api/v1/coordination/delegate", body)
	if err != nil {
		return "", err
	}
	var result struct {
		MessageIDs []string `json:"message_ids"`
	}
	if err := json.Unmarshal(resp, &result); err != nil || len(result.MessageIDs) == 0 {
		return "", fmt.Errorf("unexpected delegate response: %s", resp)
	}
	return result.MessageIDs[0], nil
}

// RunQueued drains the orchestrator's task queue once.
func (c *Client) RunQueued() ([]models.TaskResult, error) {
	resp, err := c.send(http.MethodPost, "/api/v1/tasks/run", nil)
	if err != nil {
		return nil, err
	}
	var results []models.TaskResult
	if err := json.Unmarshal(resp, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) get(path string, v any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) send(method, path string, data any) ([]byte, error) {
	var body io.Reader
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, apiError(resp)
	}
	return io.ReadAll(resp.Body)
}

func apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("API error (%d): %s", resp.StatusCode, bytes.TrimSpace(raw))
}
