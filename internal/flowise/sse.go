package flowise

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/set-night/flowchat/internal/domain"
)

const maxEventSize = 1 << 20

// StreamPredict opens the long-lived event connection for one turn and
// returns a channel of typed events. The channel is closed exactly once: on
// the terminal event, on server close, or on context cancellation. A
// malformed event is logged and skipped without terminating the stream.
func (c *Client) StreamPredict(ctx context.Context, flowID string, req PredictionRequest) (<-chan domain.StreamEvent, error) {
	req.Streaming = true
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal prediction request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/api/v1/internal-prediction/%s", flowID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	// The stream outlives any per-call timeout; lifetime is governed by the
	// request context alone.
	resp, err := (&http.Client{}).Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, apiError(resp.StatusCode, raw)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected content type %q for event stream", ct)
	}

	events := make(chan domain.StreamEvent)
	go c.consumeStream(ctx, resp.Body, events)
	return events, nil
}

func (c *Client) consumeStream(ctx context.Context, body io.ReadCloser, events chan<- domain.StreamEvent) {
	defer close(events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if data.Len() == 0 {
				continue
			}
			raw := data.String()
			data.Reset()

			ev, err := domain.DecodeStreamEvent([]byte(raw))
			if err != nil {
				slog.Warn("skipping malformed stream event", "error", err)
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Terminal() {
				return
			}
			continue
		}

		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(rest, " "))
		}
		// Other SSE fields (event, id, retry) carry nothing here.
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		slog.Warn("event stream closed unexpectedly", "error", err)
	}
}
