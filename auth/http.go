package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// initialBackoff and maxDeadline mirror the teacher's reconnectLoop
// backoff-doubling pattern (client.go), retargeted from connection retries
// to authentication-callout retries: start at 500ms, double each failure,
// give up once the bounded total deadline elapses.
const (
	initialBackoff = 500 * time.Millisecond
	maxDeadline    = time.Minute
)

// ErrAuthPortPermanent is returned when the callout responds with a
// definitive rejection rather than a transient failure.
var ErrAuthPortPermanent = errors.New("auth port permanent failure")

// HTTPAuthenticator authenticates CONNECT requests via an HTTP callout,
// retrying transient failures (5xx, 429 throttling, network errors) with
// exponential backoff bounded by maxDeadline before giving up.
type HTTPAuthenticator struct {
	URL    string
	Client *http.Client
	Logger *slog.Logger
}

// NewHTTPAuthenticator constructs an authenticator posting to url.
func NewHTTPAuthenticator(url string) *HTTPAuthenticator {
	return &HTTPAuthenticator{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
		Logger: slog.New(slog.NewTextHandler(discardWriter{}, nil)),
	}
}

type calloutRequest struct {
	ClientID string `json:"clientId"`
	PeerAddr string `json:"peerAddr"`
	Username string `json:"username,omitempty"`
	Password []byte `json:"password,omitempty"`
}

type calloutResponse struct {
	Result string `json:"result"` // "identity" | "unknown" | "failure"
	AuthID string `json:"authId,omitempty"`
}

// Authenticate posts req to the configured URL, retrying transient
// failures with exponential backoff until maxDeadline elapses or ctx is
// cancelled.
func (h *HTTPAuthenticator) Authenticate(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(calloutRequest{
		ClientID: req.ClientID,
		PeerAddr: req.PeerAddr,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal auth request: %w", err)
	}

	deadline := time.Now().Add(maxDeadline)
	backoff := initialBackoff

	for {
		result, transient, err := h.attempt(ctx, body)
		if err == nil {
			return result, nil
		}
		if !transient {
			return Result{Status: Failure}, nil
		}

		if time.Now().Add(backoff).After(deadline) {
			h.Logger.Warn("auth callout exhausted retry deadline", "client_id", req.ClientID, "error", err)
			return Result{Status: Failure}, nil
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
		backoff *= 2
	}
}

// attempt performs one HTTP round trip. The bool return is true when the
// failure should be retried (network error, 5xx, 429 throttling, or an
// undecodable response), false for a definitive rejection (4xx other than
// throttling).
func (h *HTTPAuthenticator) attempt(ctx context.Context, body []byte) (Result, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(httpReq)
	if err != nil {
		return Result{}, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return Result{}, true, fmt.Errorf("auth callout returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return Result{}, false, fmt.Errorf("%w: status %d", ErrAuthPortPermanent, resp.StatusCode)
	}

	var out calloutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, true, fmt.Errorf("decode auth callout response: %w", err)
	}

	switch out.Result {
	case "identity":
		return Result{Status: Identity, AuthID: out.AuthID}, false, nil
	case "unknown":
		return Result{Status: Unknown}, false, nil
	default:
		return Result{Status: Failure}, false, nil
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
