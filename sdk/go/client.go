package leadflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"leadflow/internal/domain"
	"leadflow/internal/engine/auth"
	"leadflow/internal/gateway"
	"leadflow/internal/workflow"
)

// Client is the Leadflow HTTP API client. It implements gateway.Gateway so a
// store can run against a remote server.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

var _ gateway.Gateway = (*Client)(nil)

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Me is the caller's identity and resolved permissions.
type Me struct {
	ActorID      string   `json:"actor_id"`
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	EngineerType string   `json:"engineer_type,omitempty"`
	Tier         string   `json:"tier"`
	Permissions  []string `json:"permissions"`
}

// Identity converts the response into a domain identity.
func (m Me) Identity() domain.Identity {
	return domain.Identity{ID: m.ActorID, Name: m.Name, Role: domain.Role(m.Role), EngineerType: domain.EngineerType(m.EngineerType)}
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// EventQuery filters an event listing.
type EventQuery struct {
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
	Cursor     string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// TransportError reports a request that never produced an HTTP response.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Login mints a token through the development login endpoint and keeps it
// for subsequent calls.
func (c *Client) Login(ctx context.Context, who domain.Identity) (string, error) {
	body := map[string]any{
		"actor_id": who.ID,
		"name":     who.Name,
		"role":     string(who.Role),
	}
	if who.EngineerType != "" {
		body["engineer_type"] = string(who.EngineerType)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "v0/auth/dev/login", body, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

// Me returns the authenticated identity and its permissions.
func (c *Client) Me(ctx context.Context) (Me, error) {
	var resp Me
	err := c.do(ctx, http.MethodGet, "v0/me", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, EventQuery{Limit: limit})
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, q EventQuery) (PaginatedEvents, error) {
	values := url.Values{}
	if q.Type != "" {
		values.Set("type", q.Type)
	}
	if q.EntityKind != "" {
		values.Set("entity_kind", q.EntityKind)
	}
	if q.EntityID != "" {
		values.Set("entity_id", q.EntityID)
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		values.Set("cursor", q.Cursor)
	}
	endpoint := "v0/events"
	if len(values) > 0 {
		endpoint += "?" + values.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetLead fetches one visible lead.
func (c *Client) GetLead(ctx context.Context, id string) (domain.Lead, error) {
	var resp domain.Lead
	err := c.do(ctx, http.MethodGet, leadPath(id, ""), nil, &resp)
	return resp, err
}

// Stats counts live leads per status.
func (c *Client) Stats(ctx context.Context) (map[string]int, error) {
	var resp struct {
		Leads map[string]int `json:"leads"`
	}
	err := c.do(ctx, http.MethodGet, "v0/stats", nil, &resp)
	return resp.Leads, err
}

// GrantRole adds role to an actor.
func (c *Client) GrantRole(ctx context.Context, actorID string, role domain.Role) error {
	return c.do(ctx, http.MethodPost, "v0/rbac/grant", map[string]any{"actor_id": actorID, "role": string(role)}, nil)
}

// RevokeRole removes a granted role.
func (c *Client) RevokeRole(ctx context.Context, actorID string, role domain.Role) error {
	return c.do(ctx, http.MethodPost, "v0/rbac/revoke", map[string]any{"actor_id": actorID, "role": string(role)}, nil)
}

// RealtimeEndpoint is the websocket URL of the change stream.
func (c *Client) RealtimeEndpoint() string {
	base := c.base()
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/v0/realtime"
}

// AuthHeader carries the client's credentials for non-JSON requests such as
// the websocket dial.
func (c *Client) AuthHeader() http.Header {
	h := http.Header{}
	c.authorize(h)
	return h
}

func (c *Client) CreateLead(ctx context.Context, in gateway.CreateLeadInput) gateway.Result[domain.Lead] {
	return c.lead(ctx, http.MethodPost, "v0/leads", in)
}

func (c *Client) UpdateStatus(ctx context.Context, id string, status domain.Status) gateway.Result[domain.Lead] {
	return c.lead(ctx, http.MethodPatch, leadPath(id, "status"), map[string]any{"status": string(status)})
}

func (c *Client) Assign(ctx context.Context, id string, slot domain.Slot, name string) gateway.Result[domain.Lead] {
	return c.lead(ctx, http.MethodPost, leadPath(id, "assign"), map[string]any{"slot": string(slot), "name": name})
}

func (c *Client) SaveQuoteDraft(ctx context.Context, id string, sub workflow.Submission) gateway.Result[domain.Lead] {
	return c.lead(ctx, http.MethodPut, leadPath(id, "quote"), quoteBody(sub))
}

func (c *Client) SubmitQuote(ctx context.Context, id string, sub workflow.Submission) gateway.Result[domain.Lead] {
	return c.lead(ctx, http.MethodPost, leadPath(id, "quote/submit"), quoteBody(sub))
}

func (c *Client) ApproveQuote(ctx context.Context, id string, in workflow.ApproveInput) gateway.Result[domain.Lead] {
	body := map[string]any{}
	if in.Message != "" {
		body["message"] = in.Message
	}
	if in.FeedbackID != "" {
		body["feedback_id"] = in.FeedbackID
	}
	if in.AdjustedValue.Valid {
		body["adjusted_value"] = in.AdjustedValue.Decimal.String()
	}
	return c.lead(ctx, http.MethodPost, leadPath(id, "quote/approve"), body)
}

func (c *Client) RejectQuote(ctx context.Context, id string, in workflow.RejectInput) gateway.Result[domain.Lead] {
	body := map[string]any{"message": in.Message}
	if in.FeedbackID != "" {
		body["feedback_id"] = in.FeedbackID
	}
	return c.lead(ctx, http.MethodPost, leadPath(id, "quote/reject"), body)
}

func (c *Client) SendQuote(ctx context.Context, id string) gateway.Result[domain.Lead] {
	return c.lead(ctx, http.MethodPost, leadPath(id, "quote/send"), nil)
}

func (c *Client) ConfirmOrder(ctx context.Context, id string) gateway.Result[domain.Lead] {
	return c.lead(ctx, http.MethodPost, leadPath(id, "order/confirm"), nil)
}

func (c *Client) DeleteLead(ctx context.Context, id string) gateway.Result[domain.Lead] {
	return c.lead(ctx, http.MethodDelete, leadPath(id, ""), nil)
}

func (c *Client) ListLeads(ctx context.Context) gateway.Result[[]domain.Lead] {
	var resp []domain.Lead
	if err := c.do(ctx, http.MethodGet, "v0/leads", nil, &resp); err != nil {
		return failure[[]domain.Lead](err)
	}
	if resp == nil {
		resp = []domain.Lead{}
	}
	return gateway.OK(resp)
}

func (c *Client) lead(ctx context.Context, method, endpoint string, body any) gateway.Result[domain.Lead] {
	var resp domain.Lead
	if err := c.do(ctx, method, endpoint, body, &resp); err != nil {
		return failure[domain.Lead](err)
	}
	return gateway.OK(resp)
}

// failure maps transport and API errors onto the shared result codes.
func failure[T any](err error) gateway.Result[T] {
	var apiErr *APIError
	var transport *TransportError
	switch {
	case errors.As(err, &apiErr):
		code := apiErr.Code
		if !knownCodes[code] {
			code = codeForStatus(apiErr.StatusCode)
		}
		msg := apiErr.Message
		if msg == "" {
			msg = err.Error()
		}
		return gateway.Result[T]{Error: msg, Code: code}
	case errors.As(err, &transport):
		return gateway.Result[T]{Error: err.Error(), Code: gateway.CodeUnavailable}
	}
	return gateway.Fail[T](err)
}

var knownCodes = map[string]bool{
	gateway.CodeValidation:        true,
	gateway.CodeForbidden:         true,
	gateway.CodeInvalidTransition: true,
	gateway.CodeNotFound:          true,
	gateway.CodeUnavailable:       true,
	gateway.CodeInternal:          true,
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return gateway.CodeValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return gateway.CodeForbidden
	case http.StatusNotFound:
		return gateway.CodeNotFound
	case http.StatusConflict:
		return gateway.CodeInvalidTransition
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return gateway.CodeUnavailable
	}
	return gateway.CodeInternal
}

func quoteBody(sub workflow.Submission) map[string]any {
	items := make([]map[string]string, 0, len(sub.LineItems))
	for _, it := range sub.LineItems {
		items = append(items, map[string]string{"description": it.Description, "amount": it.Amount.String()})
	}
	body := map[string]any{"line_items": items}
	if sub.Details != nil {
		body["details"] = sub.Details
	}
	return body
}

// PermissionSource resolves permissions through GET /v0/me. Transport
// failures and 5xx answers are reported as auth.UnavailableError so the
// resolver falls back to the static defaults.
type PermissionSource struct {
	Client *Client
}

var _ auth.Source = PermissionSource{}

func (s PermissionSource) Permissions(ctx context.Context, who domain.Identity) ([]string, error) {
	me, err := s.Client.Me(ctx)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return nil, err
		}
		return nil, &auth.UnavailableError{Source: "api", Err: err}
	}
	if me.ActorID != who.ID {
		return nil, fmt.Errorf("server resolved actor %q, expected %q", me.ActorID, who.ID)
	}
	return me.Permissions, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req.Header)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) authorize(h http.Header) {
	switch {
	case c.BearerToken != "":
		h.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		h.Set("X-Api-Key", c.APIKey)
	}
}

func leadPath(id, suffix string) string {
	p := "v0/leads/" + url.PathEscape(id)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
