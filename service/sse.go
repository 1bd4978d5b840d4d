package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"ticketflow-cli/model"
)

// SSEStream reads seat change events from the backend's server-sent
// events endpoint.
type SSEStream struct {
	client *Client
}

func NewSSEStream(client *Client) *SSEStream {
	return &SSEStream{client: client}
}

func (s *SSEStream) Subscribe(ctx context.Context, showID uuid.UUID) (*Subscription[model.ChangeEvent], error) {
	if showID == uuid.Nil {
		return nil, fmt.Errorf("show id is required")
	}
	endpoint := fmt.Sprintf("%s/v1/shows/%s/seats/events", s.client.baseURL, showID)
	return subscribeSSE(ctx, s.client, endpoint, func(payload []byte) (model.ChangeEvent, error) {
		ev, err := DecodeChangeEvent(payload)
		if err == nil && ev.New.ShowId != showID {
			return ev, fmt.Errorf("%w: event for show %s", ErrMalformedEvent, ev.New.ShowId)
		}
		return ev, err
	})
}

// SubscribeShows follows show updates such as availability changes.
func (c *Client) SubscribeShows(ctx context.Context) (*Subscription[model.Show], error) {
	return subscribeSSE(ctx, c, c.baseURL+"/v1/shows/events", DecodeShow)
}

func subscribeSSE[T any](ctx context.Context, c *Client, endpoint string, decode func([]byte) (T, error)) (*Subscription[T], error) {
	sub, subCtx := newSubscription[T](ctx)

	req, err := c.newRequest(subCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		sub.cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// The regular client carries a request timeout that would cut the stream.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	res, err := streamClient.Do(req)
	if err != nil {
		sub.cancel()
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if apiErr := checkStatus(res, endpoint); apiErr != nil {
		sub.cancel()
		return nil, apiErr
	}

	go func() {
		defer res.Body.Close()
		err := readSSE(subCtx, res.Body, func(data []byte) bool {
			ev, err := decode(data)
			if err != nil {
				c.logger.Debug("dropping event", "endpoint", endpoint, "err", err)
				return true
			}
			return sub.deliver(subCtx, ev)
		})
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		sub.finish(subCtx, fmt.Errorf("event stream ended: %w", err))
	}()
	return sub, nil
}

// readSSE splits a text/event-stream body into data payloads. Multi-line
// data fields are joined with newlines. It returns nil at end of body.
func readSSE(ctx context.Context, body io.Reader, emit func([]byte) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var data []string
	flush := func() bool {
		if len(data) == 0 {
			return true
		}
		payload := strings.Join(data, "\n")
		data = data[:0]
		return emit([]byte(payload))
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()
		switch {
		case line == "":
			if !flush() {
				return ctx.Err()
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	flush()
	return nil
}
