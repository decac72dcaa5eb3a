package rtc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ErrUpstream marks failures of the media provider's control plane. Callers
// decide whether to propagate (credential-critical paths) or downgrade to a
// warning (recording, which is best-effort).
var ErrUpstream = errors.New("media provider upstream error")

// Client talks to the media provider's HTTP control plane for server-side
// composite recording. The acquire/start/stop flow mirrors the provider API:
// a recording resource is leased first, then recording starts against it.
type Client struct {
	baseURL    string
	appID      string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(baseURL, appID string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		appID:      appID,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With().Str("component", "rtc_client").Logger(),
	}
}

type acquireRequest struct {
	Channel string `json:"channel"`
}

type acquireResponse struct {
	ResourceID string `json:"resource_id"`
}

// AcquireRecording leases a recording resource for the channel. The lease
// self-expires on the provider side if recording never starts, so an
// abandoned resource needs no explicit teardown.
func (c *Client) AcquireRecording(ctx context.Context, channel string) (string, error) {
	var resp acquireResponse
	path := fmt.Sprintf("/v1/apps/%s/recording/acquire", c.appID)
	if err := c.post(ctx, path, acquireRequest{Channel: channel}, &resp); err != nil {
		return "", err
	}
	if resp.ResourceID == "" {
		return "", fmt.Errorf("%w: acquire returned empty resource id", ErrUpstream)
	}
	return resp.ResourceID, nil
}

type startRequest struct {
	Channel string `json:"channel"`
	Mode    string `json:"mode"`
	Bucket  string `json:"bucket"`
}

type startResponse struct {
	RecordingID string `json:"recording_id"`
}

// StartRecording begins composite recording against a leased resource,
// writing output to the given storage bucket. Returns the provider's
// recording session id.
func (c *Client) StartRecording(ctx context.Context, resourceID, channel, bucket string) (string, error) {
	var resp startResponse
	path := fmt.Sprintf("/v1/apps/%s/recording/%s/start", c.appID, resourceID)
	if err := c.post(ctx, path, startRequest{Channel: channel, Mode: "composite", Bucket: bucket}, &resp); err != nil {
		return "", err
	}
	if resp.RecordingID == "" {
		return "", fmt.Errorf("%w: start returned empty recording id", ErrUpstream)
	}
	return resp.RecordingID, nil
}

type stopRequest struct {
	Channel     string `json:"channel"`
	RecordingID string `json:"recording_id"`
}

// StopRecording stops a running composite recording.
func (c *Client) StopRecording(ctx context.Context, resourceID, recordingID, channel string) error {
	path := fmt.Sprintf("/v1/apps/%s/recording/%s/stop", c.appID, resourceID)
	return c.post(ctx, path, stopRequest{Channel: channel, RecordingID: recordingID}, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn().
			Str("path", path).
			Int("status", resp.StatusCode).
			Msg("control plane request rejected")
		return fmt.Errorf("%w: %s returned %d: %s", ErrUpstream, path, resp.StatusCode, snippet)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
		}
	}
	return nil
}
