package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ajoanos/pytania-dla-par-sub000/internal/directory"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/engine"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/session"
	"github.com/ajoanos/pytania-dla-par-sub000/pkg/types"
)

// Transport carries pushes and polls to the merger.
type Transport interface {
	Sync(ctx context.Context, roomCode, participantID string, s engine.State) (types.StateResponse, error)
	Poll(ctx context.Context, roomCode, participantID string) (types.StateResponse, error)
}

// HTTPTransport talks to the httpapi routes.
type HTTPTransport struct {
	base   string
	client *http.Client
}

func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Sync(ctx context.Context, roomCode, participantID string, s engine.State) (types.StateResponse, error) {
	body, err := json.Marshal(types.SyncRequest{ParticipantID: participantID, State: s})
	if err != nil {
		return types.StateResponse{}, err
	}
	u := fmt.Sprintf("%s/rooms/%s/sync", t.base, url.PathEscape(roomCode))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return types.StateResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req)
}

func (t *HTTPTransport) Poll(ctx context.Context, roomCode, participantID string) (types.StateResponse, error) {
	u := fmt.Sprintf("%s/rooms/%s/state?participant=%s", t.base, url.PathEscape(roomCode), url.QueryEscape(participantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return types.StateResponse{}, err
	}
	return t.do(req)
}

func (t *HTTPTransport) do(req *http.Request) (types.StateResponse, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return types.StateResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e types.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return types.StateResponse{}, decodeError(resp.StatusCode, e)
	}

	var out types.StateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return types.StateResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// decodeError turns an error body back into the server's sentinel errors so
// callers can use errors.Is on both sides of the wire.
func decodeError(status int, e types.ErrorResponse) error {
	var sentinel error
	switch e.Error {
	case types.CodeRoomExpired:
		sentinel = directory.ErrRoomExpired
	case types.CodeRoomNotFound:
		sentinel = directory.ErrRoomNotFound
	case types.CodeParticipantNotFound:
		sentinel = directory.ErrParticipantNotFound
	case types.CodeVersionConflict:
		sentinel = session.ErrVersionConflict
	default:
		return fmt.Errorf("http %d: %s: %s", status, e.Error, e.Message)
	}
	return fmt.Errorf("%w (%s)", sentinel, e.Message)
}

// IsTerminal reports whether err means the session is gone for good.
func IsTerminal(err error) bool {
	return errors.Is(err, directory.ErrRoomNotFound) || errors.Is(err, directory.ErrParticipantNotFound)
}
