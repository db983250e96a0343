// Package timesheet submits schedule slots to a Kimai timesheet server
// through its REST API.
package timesheet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benvon/timesheet-sync/internal/logger"
	"github.com/benvon/timesheet-sync/internal/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// dateTimeLayout is the local HTML5 datetime format Kimai expects.
const dateTimeLayout = "2006-01-02T15:04:05"

// DefaultTimeout bounds each API call.
const DefaultTimeout = 30 * time.Second

// Config holds the Kimai endpoint settings.
type Config struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// Client is one submission channel. Open must succeed before Submit; the
// name to id lookups are cached for the lifetime of one open channel.
type Client struct {
	cfg    Config
	logger *zap.Logger

	mu         sync.Mutex
	httpClient *http.Client
	customers  map[string]int
	projects   map[string]int
	activities map[string]int
}

// NewClient creates a closed channel.
func NewClient(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, logger: log}
}

// Open creates an authenticated HTTP session and checks the server answers.
func (c *Client) Open(ctx context.Context) error {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.cfg.APIToken, TokenType: "Bearer"})
	hc := oauth2.NewClient(ctx, ts)
	hc.Timeout = c.cfg.Timeout

	c.mu.Lock()
	c.httpClient = hc
	c.customers = make(map[string]int)
	c.projects = make(map[string]int)
	c.activities = make(map[string]int)
	c.mu.Unlock()

	if _, err := c.get(ctx, "/api/ping", nil); err != nil {
		c.reset()
		return &ChannelError{Op: "open", Err: err}
	}
	c.logger.Debug("timesheet_channel_opened", zap.String("base_url", c.cfg.BaseURL))
	return nil
}

// Close releases the session. It is safe to call on a closed channel.
func (c *Client) Close() error {
	c.reset()
	return nil
}

func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
	}
	c.httpClient = nil
	c.customers, c.projects, c.activities = nil, nil, nil
}

type timesheetRequest struct {
	Begin       string `json:"begin"`
	End         string `json:"end"`
	Project     int    `json:"project"`
	Activity    int    `json:"activity"`
	Description string `json:"description"`
	Tags        string `json:"tags,omitempty"`
}

// Submit books one slot. A false result with a nil error is a rejection of
// this slot only; a non-nil error is always a ChannelError.
func (c *Client) Submit(ctx context.Context, slot models.ScheduleSlot) (bool, error) {
	meta := slot.Metadata()
	log := c.logger.With(zap.String("work_item_id", slot.WorkItemID), zap.Time("start", slot.Start))

	projectName := meta.GetString(models.MetaProject)
	activityName := meta.GetString(models.MetaActivity)
	if projectName == "" || activityName == "" {
		log.Warn("timesheet_slot_missing_metadata",
			zap.String("project", projectName),
			zap.String("activity", activityName),
		)
		return false, nil
	}

	customerID := 0
	if clientName := meta.GetString(models.MetaClient); clientName != "" {
		id, ok, err := c.resolve(ctx, "customers", clientName, nil)
		if err != nil || !ok {
			return false, err
		}
		customerID = id
	}

	projectQuery := url.Values{}
	if customerID != 0 {
		projectQuery.Set("customer", strconv.Itoa(customerID))
	}
	projectID, ok, err := c.resolve(ctx, "projects", projectName, projectQuery)
	if err != nil || !ok {
		return false, err
	}

	activityQuery := url.Values{"project": {strconv.Itoa(projectID)}}
	activityID, ok, err := c.resolve(ctx, "activities", activityName, activityQuery)
	if err != nil || !ok {
		return false, err
	}

	body, err := json.Marshal(timesheetRequest{
		Begin:       slot.Start.Format(dateTimeLayout),
		End:         slot.End.Format(dateTimeLayout),
		Project:     projectID,
		Activity:    activityID,
		Description: slot.Title,
		Tags:        strings.Join(meta.Tags(), ","),
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal timesheet: %w", err)
	}

	status, respBody, err := c.do(ctx, http.MethodPost, "/api/timesheets", nil, body)
	if err != nil {
		return false, &ChannelError{Op: "submit", Err: err}
	}
	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		log.Debug("timesheet_slot_submitted", zap.Int("duration_minutes", slot.DurationMinutes))
		return true, nil
	case isChannelStatus(status):
		return false, &ChannelError{Op: "submit", Err: fmt.Errorf("unexpected status %d", status)}
	default:
		log.Warn("timesheet_slot_rejected",
			zap.Int("status", status),
			zap.String("body", logger.SanitizeString(string(respBody), 512)),
		)
		return false, nil
	}
}

type namedEntity struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// resolve maps a display name to its Kimai id. Unknown names return ok=false.
func (c *Client) resolve(ctx context.Context, kind, name string, query url.Values) (int, bool, error) {
	cacheKey := strings.ToLower(name) + "|" + query.Encode()

	c.mu.Lock()
	cache := c.cacheFor(kind)
	if cache == nil {
		c.mu.Unlock()
		return 0, false, &ChannelError{Op: "resolve", Err: ErrNotOpen}
	}
	if id, ok := cache[cacheKey]; ok {
		c.mu.Unlock()
		return id, true, nil
	}
	c.mu.Unlock()

	if query == nil {
		query = url.Values{}
	}
	query.Set("term", name)

	data, err := c.get(ctx, "/api/"+kind, query)
	if err != nil {
		return 0, false, &ChannelError{Op: "resolve " + kind, Err: err}
	}
	var entities []namedEntity
	if err := json.Unmarshal(data, &entities); err != nil {
		return 0, false, &ChannelError{Op: "resolve " + kind, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	for _, e := range entities {
		if strings.EqualFold(strings.TrimSpace(e.Name), strings.TrimSpace(name)) {
			c.mu.Lock()
			if cache := c.cacheFor(kind); cache != nil {
				cache[cacheKey] = e.ID
			}
			c.mu.Unlock()
			return e.ID, true, nil
		}
	}

	c.logger.Warn("timesheet_name_not_found",
		zap.String("kind", kind),
		zap.String("name", logger.SanitizeString(name, 0)),
	)
	return 0, false, nil
}

// cacheFor must be called with mu held.
func (c *Client) cacheFor(kind string) map[string]int {
	switch kind {
	case "customers":
		return c.customers
	case "projects":
		return c.projects
	default:
		return c.activities
	}
}

// get issues a GET and treats any non-2xx status as an error.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	status, body, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("GET %s returned status %d", path, status)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) (int, []byte, error) {
	c.mu.Lock()
	hc := c.httpClient
	c.mu.Unlock()
	if hc == nil {
		return 0, nil, ErrNotOpen
	}

	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// isChannelStatus reports statuses that mean the session, not the entry, is broken.
func isChannelStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden || status >= 500
}
