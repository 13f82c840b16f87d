// Package client is a small HTTP client for the searchchat API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"searchchat-backend/internal/models"
)

// ErrDegraded is returned with the degraded response of a failed turn.
var ErrDegraded = errors.New("turn failed")

// APIError is a non-2xx answer carrying the server's error message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client. Streaming turns have no overall deadline beyond ctx.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
}

// Ask runs one streamed turn, calling onChunk for every answer delta. A degraded
// turn returns its response together with an error wrapping ErrDegraded.
func (c *Client) Ask(ctx context.Context, req *models.TurnRequest, onChunk func(delta string)) (*models.TurnResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search-chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var final *models.TurnResponse
	err = readEvents(resp.Body, func(name string, data []byte) error {
		switch name {
		case "chunk":
			var chunk models.StreamChunk
			if err := json.Unmarshal(data, &chunk); err != nil {
				return fmt.Errorf("decode chunk: %w", err)
			}
			if onChunk != nil {
				onChunk(chunk.Delta)
			}
		case "done", "error":
			final = &models.TurnResponse{}
			if err := json.Unmarshal(data, final); err != nil {
				return fmt.Errorf("decode %s event: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if final == nil {
		return nil, errors.New("stream ended without a final event")
	}
	if !final.Success {
		msg := "unknown error"
		if final.Error != nil {
			msg = final.Error.Code + ": " + final.Error.Message
		}
		return final, fmt.Errorf("%w: %s", ErrDegraded, msg)
	}
	return final, nil
}

// Health fetches the service status. A degraded service is not an error.
func (c *Client) Health(ctx context.Context) (*models.HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out models.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "unexpected health payload"}
	}
	return &out, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	defer resp.Body.Close()
	var e models.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e); err != nil || e.Error == "" {
		e.Error = http.StatusText(resp.StatusCode)
	}
	return nil, &APIError{StatusCode: resp.StatusCode, Message: e.Error}
}

// readEvents parses a server-sent event stream, calling fn once per event.
func readEvents(r io.Reader, fn func(name string, data []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	var name string
	var data bytes.Buffer
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				if err := fn(name, data.Bytes()); err != nil {
					return err
				}
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if data.Len() > 0 {
		return fn(name, data.Bytes())
	}
	return nil
}
