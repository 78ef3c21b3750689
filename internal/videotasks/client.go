package videotasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/growthkit-labs/growthkit-go/internal/platform/env"
)

// ErrNotConfigured is returned by the zero client: video generation is an
// optional capability and the dashboard runs without it.
var ErrNotConfigured = errors.New("videotasks: api not configured")

// ModelTextToVideo is the generation model requested for short-video tasks.
const ModelTextToVideo = "sora-2-text-to-video"

type Config struct {
	// BaseURL of the video generation task API.
	BaseURL string
	// APIKey sent as a bearer token.
	APIKey  string
	Timeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("GROWTHKIT_VIDEO_API_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL: env.String("GROWTHKIT_VIDEO_API_URL", ""),
		APIKey:  env.String("GROWTHKIT_VIDEO_API_KEY", ""),
		Timeout: timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Enabled reports whether the task API can be called at all.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.BaseURL) != ""
}

func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("GROWTHKIT_VIDEO_API_URL is not a valid http(s) URL")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("GROWTHKIT_VIDEO_API_KEY is required when the video api is configured")
	}
	return nil
}

// Task is the state of one generation task as reported by the API.
type Task struct {
	TaskID     string
	State      string
	ResultURLs []string
	FailMsg    string
	FailCode   string
}

// Succeeded reports a finished task with results.
func (t Task) Succeeded() bool {
	return strings.EqualFold(t.State, "success")
}

// Failed reports a task the engine gave up on.
func (t Task) Failed() bool {
	return strings.EqualFold(t.State, "fail") || t.FailMsg != "" || t.FailCode != ""
}

// Client talks to the external video generation task API. Two calls exist:
// create a task, and fetch a task's record.
type Client struct {
	logger *slog.Logger
	cfg    Config
	http   *http.Client
}

func NewClient(logger *slog.Logger, cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		logger: logger,
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
	}
}

// Enabled mirrors the config switch so callers can skip the API entirely.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.Enabled()
}

// BaseURL exposes the configured API root, for error reporting.
func (c *Client) BaseURL() string {
	if c == nil {
		return ""
	}
	return c.cfg.BaseURL
}

// envelope is the API's uniform response wrapper. Any code other than 200 is
// an application-level rejection even on HTTP 200.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// CreateTask submits a generation request and returns the engine task id.
func (c *Client) CreateTask(ctx context.Context, model string, input map[string]any) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}
	payload, err := json.Marshal(map[string]any{
		"model": model,
		"input": input,
	})
	if err != nil {
		return "", fmt.Errorf("encode task request: %w", err)
	}

	data, err := c.call(ctx, http.MethodPost, "/api/v1/jobs/createTask", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	var created struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}
	if created.TaskID == "" {
		return "", fmt.Errorf("create response carried no task id")
	}
	c.logger.Info("video task created", "task_id", created.TaskID, "model", model)
	return created.TaskID, nil
}

// TaskInfo fetches the current record of a task.
func (c *Client) TaskInfo(ctx context.Context, taskID string) (Task, error) {
	if !c.Enabled() {
		return Task{}, ErrNotConfigured
	}
	if strings.TrimSpace(taskID) == "" {
		return Task{}, fmt.Errorf("videotasks: task id is required")
	}

	data, err := c.call(ctx, http.MethodGet, "/api/v1/jobs/recordInfo?taskId="+url.QueryEscape(taskID), nil)
	if err != nil {
		return Task{}, err
	}

	var record struct {
		TaskID     string `json:"taskId"`
		State      string `json:"state"`
		ResultJSON string `json:"resultJson"`
		FailMsg    string `json:"failMsg"`
		FailCode   string `json:"failCode"`
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return Task{}, fmt.Errorf("decode record response: %w", err)
	}

	task := Task{
		TaskID:   record.TaskID,
		State:    record.State,
		FailMsg:  record.FailMsg,
		FailCode: record.FailCode,
	}
	if task.TaskID == "" {
		task.TaskID = taskID
	}
	if record.ResultJSON != "" {
		var result struct {
			ResultURLs []string `json:"resultUrls"`
		}
		if err := json.Unmarshal([]byte(record.ResultJSON), &result); err == nil {
			task.ResultURLs = result.ResultURLs
		}
	}
	return task, nil
}

func (c *Client) call(ctx context.Context, method, path string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call video api: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read video api response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("video api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var wrapped envelope
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode video api envelope: %w", err)
	}
	if wrapped.Code != 200 {
		return nil, fmt.Errorf("video api rejected request (code %d): %s", wrapped.Code, wrapped.Msg)
	}
	return wrapped.Data, nil
}
