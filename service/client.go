package service

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

	"github.com/google/uuid"

	"ticketflow-cli/model"
)

const (
	DefaultBaseURL     = "http://localhost:8080"
	defaultUserAgent   = "ticketflow-cli"
	defaultMaxAttempts = 3
	defaultRetryBase   = 200 * time.Millisecond
	defaultRetryCap    = 1200 * time.Millisecond
)

// Client wraps HTTP access to the ticketing backend.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	token       string
	userAgent   string
	maxAttempts int
	retryBase   time.Duration
	retryCap    time.Duration
	logger      *slog.Logger
}

// APIError is returned when the backend responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Status     string
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	if e == nil {
		return "ticketing api error"
	}
	return fmt.Sprintf("ticketing api error: %s: %s", e.Status, e.Body)
}

// IsNotFound reports whether the error represents a 404 from the API.
func IsNotFound(err error) bool {
	return statusIs(err, http.StatusNotFound)
}

// IsUnauthorized reports whether the backend rejected the session token.
func IsUnauthorized(err error) bool {
	return statusIs(err, http.StatusUnauthorized)
}

func statusIs(err error, code int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == code
	}
	return false
}

// NewClient creates a new API client. If httpClient is nil, a default client
// is used; an empty baseURL points at the local dev server.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 12 * time.Second}
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		userAgent:   defaultUserAgent,
		maxAttempts: defaultMaxAttempts,
		retryBase:   defaultRetryBase,
		retryCap:    defaultRetryCap,
		logger:      slog.New(slog.DiscardHandler),
	}
}

// SetToken sets the bearer token sent with booking requests.
func (c *Client) SetToken(token string) {
	c.token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
}

func (c *Client) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// FetchShows lists every show ordered by start time.
func (c *Client) FetchShows(ctx context.Context) ([]model.Show, error) {
	var shows []model.Show
	if err := c.getJSON(ctx, c.baseURL+"/v1/shows", &shows); err != nil {
		return nil, err
	}
	return shows, nil
}

// FetchShow fetches a single show by id.
func (c *Client) FetchShow(ctx context.Context, showID uuid.UUID) (model.Show, error) {
	if showID == uuid.Nil {
		return model.Show{}, errors.New("show id is required")
	}
	var show model.Show
	if err := c.getJSON(ctx, fmt.Sprintf("%s/v1/shows/%s", c.baseURL, showID), &show); err != nil {
		return model.Show{}, err
	}
	return show, nil
}

// FetchSeats fetches all seats of a show ordered by seat number.
func (c *Client) FetchSeats(ctx context.Context, showID uuid.UUID) ([]model.Seat, error) {
	if showID == uuid.Nil {
		return nil, errors.New("show id is required")
	}
	var seats []model.Seat
	endpoint := fmt.Sprintf("%s/v1/shows/%s/seats", c.baseURL, showID)
	if err := c.getJSON(ctx, endpoint, &seats); err != nil {
		c.logger.Warn("fetch seats failed", "show_id", showID, "err", err)
		return nil, err
	}
	c.logger.Debug("fetched seats", "show_id", showID, "seat_count", len(seats))
	return seats, nil
}

// Book calls the atomic booking operation. It is never retried: a repeated
// request could book seats the user has already given up on.
func (c *Client) Book(ctx context.Context, showID, userID uuid.UUID, seatIDs []uuid.UUID) (model.BookingResult, error) {
	if showID == uuid.Nil || userID == uuid.Nil {
		return model.BookingResult{}, errors.New("show id and user id are required")
	}
	endpoint := fmt.Sprintf("%s/v1/shows/%s/bookings", c.baseURL, showID)
	body := model.BookingRequest{UserId: userID, SeatIds: seatIDs}

	var result model.BookingResult
	if err := c.postJSON(ctx, endpoint, body, &result); err != nil {
		c.logger.Warn("book seats failed", "show_id", showID, "seat_count", len(seatIDs), "err", err)
		return model.BookingResult{}, err
	}
	c.logger.Debug("book seats", "show_id", showID, "seat_count", len(seatIDs), "status", result.Status)
	return result, nil
}

// FetchBookings lists a user's bookings, newest first.
func (c *Client) FetchBookings(ctx context.Context, userID uuid.UUID) ([]model.Booking, error) {
	if userID == uuid.Nil {
		return nil, errors.New("user id is required")
	}
	endpoint := fmt.Sprintf("%s/v1/bookings?user_id=%s", c.baseURL, url.QueryEscape(userID.String()))
	var bookings []model.Booking
	if err := c.getJSON(ctx, endpoint, &bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	maxAttempts := c.maxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}

		res, err := c.httpClient.Do(req)
		if err != nil {
			if c.shouldRetryNetworkError(err) && attempt < maxAttempts {
				if waitErr := c.waitRetry(ctx, attempt); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("request failed: %w", err)
		}

		if apiErr := checkStatus(res, endpoint); apiErr != nil {
			if c.shouldRetryStatus(apiErr.StatusCode) && attempt < maxAttempts {
				if waitErr := c.waitRetry(ctx, attempt); waitErr != nil {
					return waitErr
				}
				continue
			}
			return apiErr
		}

		return decodeBody(res, endpoint, out)
	}

	return errors.New("request failed after retries")
}

func (c *Client) postJSON(ctx context.Context, endpoint string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if apiErr := checkStatus(res, endpoint); apiErr != nil {
		return apiErr
	}
	return decodeBody(res, endpoint, out)
}

// checkStatus closes the body and returns an APIError for non-2xx responses.
func checkStatus(res *http.Response, endpoint string) *APIError {
	if res.StatusCode >= http.StatusOK && res.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(res.Body, 8<<10))
	_ = res.Body.Close()
	return &APIError{
		StatusCode: res.StatusCode,
		Status:     res.Status,
		Endpoint:   endpoint,
		Body:       strings.TrimSpace(string(snippet)),
	}
}

func decodeBody(res *http.Response, endpoint string, out any) error {
	err := json.NewDecoder(res.Body).Decode(out)
	_ = res.Body.Close()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode response from %s: %w", endpoint, err)
	}
	return nil
}

func (c *Client) shouldRetryStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func (c *Client) shouldRetryNetworkError(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) waitRetry(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.retryDelay(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryDelay doubles from retryBase per attempt, capped at retryCap.
func (c *Client) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := c.retryBase
	if base <= 0 {
		base = defaultRetryBase
	}
	ceiling := c.retryCap
	if ceiling <= 0 {
		ceiling = defaultRetryCap
	}

	delay := base
	for i := 1; i < attempt; i++ {
		if delay >= ceiling/2 {
			return ceiling
		}
		delay *= 2
	}
	return min(delay, ceiling)
}
