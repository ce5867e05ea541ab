// Package apiclient wraps the marketplace backend's REST surface.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"roadassist/internal/metrics"
	"roadassist/internal/model"
)

// APIError carries the backend's failure reason plus the raw body for
// callers that need structured detail.
type APIError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %s (http %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("api: request failed (http %d)", e.Status)
}

// Client is a thin GET/POST wrapper. Every call uses a bounded timeout and
// one retry on transient failure.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Timeout time.Duration
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
		Timeout: timeout,
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	// Same idempotency key across the retry so the backend can dedupe.
	reqID := uuid.New().String()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(300 * time.Millisecond):
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, c.Timeout)
		err := c.once(callCtx, method, path, reqID, payload, out)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !transient(err) {
			break
		}
	}
	metrics.APIErrors.WithLabelValues(op).Inc()
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path, reqID string, payload []byte, out any) error {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", reqID)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw), Body: raw}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// errorMessage extracts the backend's {error|message} convention.
func errorMessage(raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if body.Error != "" {
		return body.Error
	}
	return body.Message
}

// transient reports whether an error is worth one retry: network failures
// and 5xx responses. 4xx means the backend understood and refused.
func transient(err error) bool {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.Status >= 500
	}
	return true
}

// GetRequest fetches the role-specific projection of one service request.
func (c *Client) GetRequest(ctx context.Context, role model.Role, requestID, phone string) (model.ServiceRequest, error) {
	var out model.ServiceRequest
	path := fmt.Sprintf("/%s/request/%s?phone=%s", role, requestID, url.QueryEscape(phone))
	if err := c.do(ctx, "get_request", http.MethodGet, path, nil, &out); err != nil {
		return model.ServiceRequest{}, err
	}
	if out.ID == "" {
		out.ID = requestID
	}
	if out.BillStatus == "" {
		out.BillStatus = model.BillNotCreated
	}
	return out, nil
}

// CreateRequest opens a new owner request and returns its id.
func (c *Client) CreateRequest(ctx context.Context, phone, vehicleType, serviceType, description string, loc model.GeoPoint) (string, error) {
	var out struct {
		RequestID string `json:"request_id"`
	}
	body := map[string]any{
		"owner_phone":  phone,
		"vehicle_type": vehicleType,
		"service_type": serviceType,
		"description":  description,
		"lat":          loc.Lat,
		"lng":          loc.Lng,
	}
	if err := c.do(ctx, "create_request", http.MethodPost, "/owner/request/create", body, &out); err != nil {
		return "", err
	}
	return out.RequestID, nil
}

// CancelRequest cancels an owner's SEARCHING/ACCEPTED request.
func (c *Client) CancelRequest(ctx context.Context, role model.Role, requestID, phone string) error {
	path := fmt.Sprintf("/%s/request/cancel/%s", role, requestID)
	return c.do(ctx, "cancel_request", http.MethodPost, path, map[string]any{"phone": phone}, nil)
}

// VerifyOTP submits the owner's OTP for an ACCEPTED request.
func (c *Client) VerifyOTP(ctx context.Context, requestID, phone, otp string) error {
	body := map[string]any{"phone": phone, "otp": otp}
	return c.do(ctx, "verify_otp", http.MethodPost, "/owner/verify-otp/"+requestID, body, nil)
}

// CompleteRequest finishes an IN_PROGRESS job (owner side).
func (c *Client) CompleteRequest(ctx context.Context, requestID, phone string) error {
	body := map[string]any{"owner_phone": phone}
	return c.do(ctx, "complete", http.MethodPost, "/owner/complete/"+requestID, body, nil)
}

// AcceptRequest claims a SEARCHING request for a mechanic and returns the
// generated OTP.
func (c *Client) AcceptRequest(ctx context.Context, requestID, phone string) (string, error) {
	var out struct {
		OTP string `json:"otp"`
	}
	body := map[string]any{"phone": phone}
	if err := c.do(ctx, "accept", http.MethodPost, "/mechanic/accept/"+requestID, body, &out); err != nil {
		return "", err
	}
	return out.OTP, nil
}

// UpdateLocation reports the mechanic's own position for a live request.
func (c *Client) UpdateLocation(ctx context.Context, requestID, phone string, p model.GeoPoint) error {
	body := map[string]any{
		"request_id": requestID,
		"phone":      phone,
		"lat":        p.Lat,
		"lng":        p.Lng,
	}
	return c.do(ctx, "update_location", http.MethodPost, "/mechanic/update-location", body, nil)
}

// NearbyRequests lists open requests matching the mechanic's skills and
// current search radius.
func (c *Client) NearbyRequests(ctx context.Context, phone string) ([]model.NearbyRequest, error) {
	var out struct {
		Requests []model.NearbyRequest `json:"requests"`
	}
	path := "/mechanic/requests?phone=" + url.QueryEscape(phone)
	if err := c.do(ctx, "nearby", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

// CreateBill submits the mechanic's bill for a request.
func (c *Client) CreateBill(ctx context.Context, requestID string, items []model.BillItem, services []model.BillService) error {
	body := map[string]any{
		"request_id": requestID,
		"items":      items,
		"services":   services,
	}
	return c.do(ctx, "bill_create", http.MethodPost, "/mechanic/bill/create", body, nil)
}

// GetBill fetches the owner's view of a bill.
func (c *Client) GetBill(ctx context.Context, requestID string) (model.Bill, error) {
	var out model.Bill
	if err := c.do(ctx, "bill_get", http.MethodGet, "/owner/bill/"+requestID, nil, &out); err != nil {
		return model.Bill{}, err
	}
	if out.RequestID == "" {
		out.RequestID = requestID
	}
	return out, nil
}

// ConfirmBill accepts the bill on the owner's behalf.
func (c *Client) ConfirmBill(ctx context.Context, requestID string) error {
	return c.do(ctx, "bill_confirm", http.MethodPost, "/owner/bill/confirm", map[string]any{"request_id": requestID}, nil)
}

// SubmitFeedback rates a COMPLETED request.
func (c *Client) SubmitFeedback(ctx context.Context, requestID, phone string, rating int, feedback string) error {
	body := map[string]any{"phone": phone, "rating": rating, "feedback": feedback}
	return c.do(ctx, "feedback", http.MethodPost, "/owner/request/feedback/"+requestID, body, nil)
}

// Profile fetches the caller's registered name and phone.
func (c *Client) Profile(ctx context.Context, role model.Role, phone string) (model.PartyInfo, error) {
	var out model.PartyInfo
	path := fmt.Sprintf("/%s/profile?phone=%s", role, url.QueryEscape(phone))
	if err := c.do(ctx, "profile", http.MethodGet, path, nil, &out); err != nil {
		return model.PartyInfo{}, err
	}
	return out, nil
}

// UpdateProfile changes the caller's display name.
func (c *Client) UpdateProfile(ctx context.Context, role model.Role, phone, name string) error {
	body := map[string]any{"phone": phone, "name": name}
	return c.do(ctx, "profile_update", http.MethodPost, fmt.Sprintf("/%s/profile/update", role), body, nil)
}

// History lists the caller's closed requests.
func (c *Client) History(ctx context.Context, role model.Role, phone string) ([]model.JobRecord, error) {
	var out struct {
		History []model.JobRecord `json:"history"`
	}
	path := "/owner/requests/history?phone=" + url.QueryEscape(phone)
	if role == model.RoleMechanic {
		path = "/mechanic/jobs/history?phone=" + url.QueryEscape(phone)
	}
	if err := c.do(ctx, "history", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}
