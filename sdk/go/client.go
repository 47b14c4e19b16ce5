package shamansdk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"shaman/internal/domain"
	"shaman/internal/identity"
	"shaman/internal/intake"
)

// Client is a minimal Shaman HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration

	mu    sync.Mutex
	token string
	state *identity.State
}

// New creates a client with sane defaults. The current user stays loading
// until SignIn, SignUp or Resume settles it.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
		state:   identity.NewState(),
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsNotFound reports a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type TaskList struct {
	Items  []domain.Task         `json:"items"`
	Counts map[domain.Status]int `json:"counts"`
	Total  int                   `json:"total"`
}

type NotificationList struct {
	Items  []domain.Notification `json:"items"`
	Unread int                   `json:"unread"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// ListOptions narrow ListTasks; zero values mean all tasks, newest first.
type ListOptions struct {
	Status string
	Query  string
	Sort   string
	Limit  int
}

// Token returns the session token in use.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// WatchUser calls fn with the current user now and on every sign-in or
// sign-out. The returned function stops the callbacks.
func (c *Client) WatchUser(fn func(user *domain.User, loading bool)) func() {
	return c.state.Watch(fn)
}

func (c *Client) setSession(token string, user *domain.User) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	c.state.Set(user)
}

func (c *Client) SignUp(ctx context.Context, email, password string) (identity.Session, error) {
	var s identity.Session
	err := c.do(ctx, http.MethodPost, "auth/signup", map[string]any{"email": email, "password": password}, &s)
	if err != nil {
		return s, err
	}
	c.setSession(s.Token, &s.User)
	return s, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string, rememberMe bool) (identity.Session, error) {
	var s identity.Session
	err := c.do(ctx, http.MethodPost, "auth/signin", map[string]any{
		"email":      email,
		"password":   password,
		"rememberMe": rememberMe,
	}, &s)
	if err != nil {
		return s, err
	}
	c.setSession(s.Token, &s.User)
	return s, nil
}

// Resume restores a saved session token. A rejected token signs out.
func (c *Client) Resume(ctx context.Context, token string) (domain.User, error) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	var u domain.User
	if err := c.do(ctx, http.MethodGet, "me", nil, &u); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			c.setSession("", nil)
		}
		return u, err
	}
	c.setSession(token, &u)
	return u, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "auth/signout", nil, nil); err != nil {
		return err
	}
	c.setSession("", nil)
	return nil
}

// CreateTask submits a structured draft. Worker-managed fields such as
// progress or agent are rejected by the API.
func (c *Client) CreateTask(ctx context.Context, draft domain.TaskDraft) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodPost, "tasks", draft, &resp)
	return resp, err
}

// CreateTaskFromText submits a free-text request.
func (c *Client) CreateTaskFromText(ctx context.Context, text string, opts intake.DraftOptions) (domain.Task, error) {
	body := map[string]any{"text": text}
	data, err := json.Marshal(opts)
	if err != nil {
		return domain.Task{}, err
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return domain.Task{}, err
	}
	var resp domain.Task
	err = c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateTask merges patch; force skips the status transition table.
func (c *Client) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch, force bool) (domain.Task, error) {
	endpoint := "tasks/" + url.PathEscape(id)
	if force {
		endpoint += "?force=true"
	}
	var resp domain.Task
	err := c.do(ctx, http.MethodPatch, endpoint, patch, &resp)
	return resp, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "tasks/"+url.PathEscape(id), nil, nil)
}

func (c *Client) RestartTask(ctx context.Context, id string) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(id)+"/restart", nil, &resp)
	return resp, err
}

func (c *Client) ProvideInput(ctx context.Context, id, data string) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(id)+"/input", map[string]any{"data": data}, &resp)
	return resp, err
}

func (c *Client) ListTasks(ctx context.Context, opts ListOptions) (TaskList, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Query != "" {
		q.Set("q", opts.Query)
	}
	if opts.Sort != "" {
		q.Set("sort", opts.Sort)
	}
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprint(opts.Limit))
	}
	endpoint := "tasks"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp TaskList
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SubscribeTasks streams the full task list to fn on connect and after every
// change, from a background goroutine. The returned function closes the
// stream and waits for the goroutine to exit.
func (c *Client) SubscribeTasks(ctx context.Context, fn func([]domain.Task)) (func(), error) {
	return c.subscribeTasks(ctx, "tasks/stream", fn)
}

// SubscribeTaskErrors streams only the tasks the worker flagged as failed.
func (c *Client) SubscribeTaskErrors(ctx context.Context, fn func([]domain.Task)) (func(), error) {
	return c.subscribeTasks(ctx, "tasks/stream?errors=true", fn)
}

func (c *Client) subscribeTasks(ctx context.Context, endpoint string, fn func([]domain.Task)) (func(), error) {
	return subscribe(ctx, c, endpoint, func(data []byte) error {
		var snap struct {
			Tasks []domain.Task `json:"tasks"`
		}
		if err := json.Unmarshal(data, &snap); err != nil {
			return err
		}
		fn(snap.Tasks)
		return nil
	})
}

func (c *Client) SubscribeNotifications(ctx context.Context, fn func(NotificationList)) (func(), error) {
	return subscribe(ctx, c, "notifications/stream", func(data []byte) error {
		var snap struct {
			Notifications []domain.Notification `json:"notifications"`
			Unread        int                   `json:"unread"`
		}
		if err := json.Unmarshal(data, &snap); err != nil {
			return err
		}
		fn(NotificationList{Items: snap.Notifications, Unread: snap.Unread})
		return nil
	})
}

func (c *Client) Notifications(ctx context.Context, filter string) (NotificationList, error) {
	endpoint := "notifications"
	if filter != "" {
		endpoint += "?filter=" + url.QueryEscape(filter)
	}
	var resp NotificationList
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "notifications/read-all", nil, nil)
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func subscribe(ctx context.Context, c *Client, endpoint string, handle func([]byte) error) (func(), error) {
	sctx, cancel := context.WithCancel(ctx)
	req, err := c.newRequest(sctx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	// streams outlive the request timeout
	client := &http.Client{Transport: c.httpClient().Transport}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		cancel()
		return nil, readAPIError(resp)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer resp.Body.Close()
		readEvents(resp.Body, handle)
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

// readEvents parses a text/event-stream body, passing each event's data to
// handle until the stream ends or handle fails.
func readEvents(r io.Reader, handle func([]byte) error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8<<20)
	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				if err := handle(data.Bytes()); err != nil {
					return
				}
				data.Reset()
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c.HTTPClient
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	return apiErr
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
