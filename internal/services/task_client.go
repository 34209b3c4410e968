package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/repository"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

// HTTPTaskClient is an HTTP implementation of the TaskClient interface.
type HTTPTaskClient struct {
	url    string
	client *http.Client
}

// NewHTTPTaskClient creates a new HTTPTaskClient for the task service at baseURL.
func NewHTTPTaskClient(baseURL string, timeout time.Duration) *HTTPTaskClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTaskClient{
		url: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// CreateTask submits a task with POST {base}/tasks.
func (c *HTTPTaskClient) CreateTask(ctx context.Context, task *models.AgentTask) (*models.AgentTask, error) {
	requestBody, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/tasks", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var created models.AgentTask
	if err := c.do(req, http.StatusCreated, &created); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("create task: response carried no task id")
	}
	return &created, nil
}

// GetTask fetches a task with GET {base}/tasks/{id}.
func (c *HTTPTaskClient) GetTask(ctx context.Context, id string) (*models.AgentTask, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/tasks/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	var task models.AgentTask
	if err := c.do(req, http.StatusOK, &task); err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return &task, nil
}

func (c *HTTPTaskClient) do(req *http.Request, want int, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrTaskNotFound
	}
	// Some task services answer 200 to creates.
	if resp.StatusCode != want && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

// StoreTaskClient keeps agent tasks in the workflow database. It also lets local
// tooling settle tasks in place of an external executor.
type StoreTaskClient struct {
	store repository.TaskStore
	clock func() time.Time
}

// NewStoreTaskClient creates a new StoreTaskClient.
func NewStoreTaskClient(store repository.TaskStore) *StoreTaskClient {
	return &StoreTaskClient{store: store, clock: time.Now}
}

// CreateTask inserts the task as pending.
func (c *StoreTaskClient) CreateTask(ctx context.Context, task *models.AgentTask) (*models.AgentTask, error) {
	created := *task
	created.ID = ""
	created.Status = models.TaskStatusPending
	created.CreatedAt = c.clock().UTC()
	created.UpdatedAt = created.CreatedAt
	if err := c.store.CreateTask(ctx, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetTask returns the stored task.
func (c *StoreTaskClient) GetTask(ctx context.Context, id string) (*models.AgentTask, error) {
	task, err := c.store.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return nil, err
	}
	return task, nil
}

// CompleteTask marks a task completed with result.
func (c *StoreTaskClient) CompleteTask(ctx context.Context, id string, result models.Context) (*models.AgentTask, error) {
	return c.settle(ctx, id, func(task *models.AgentTask) {
		task.Status = models.TaskStatusCompleted
		task.Result = result
		task.ErrorMessage = nil
	})
}

// FailTask marks a task failed with message.
func (c *StoreTaskClient) FailTask(ctx context.Context, id, message string) (*models.AgentTask, error) {
	return c.settle(ctx, id, func(task *models.AgentTask) {
		task.Status = models.TaskStatusFailed
		task.ErrorMessage = &message
	})
}

func (c *StoreTaskClient) settle(ctx context.Context, id string, apply func(*models.AgentTask)) (*models.AgentTask, error) {
	task, err := c.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return nil, fmt.Errorf("task %s already %s: %w", id, task.Status, ErrTaskSettled)
	}
	apply(task)
	task.UpdatedAt = c.clock().UTC()
	if err := c.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("update task %s: %w", id, err)
	}
	return task, nil
}

var (
	_ TaskClient = (*HTTPTaskClient)(nil)
	_ TaskClient = (*StoreTaskClient)(nil)
)
