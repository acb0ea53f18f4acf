package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dkeye/Talk/internal/core"
	"github.com/dkeye/Talk/internal/domain"
)

// HTTPDirectory talks to the external room catalog over its REST API.
// Every call carries the caller's bearer token.
type HTTPDirectory struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPDirectory(baseURL, token string) *HTTPDirectory {
	return &HTTPDirectory{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *HTTPDirectory) do(ctx context.Context, method, path string, body, out any) error {
	var buf *bytes.Buffer
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewBuffer(b)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.BaseURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+d.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("directory request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return core.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return core.ErrUnauthorized
	case resp.StatusCode >= 400:
		return fmt.Errorf("directory service: unexpected status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("directory decode: %w", err)
		}
	}
	return nil
}

func (d *HTTPDirectory) Create(ctx context.Context, room *domain.Room) error {
	return d.do(ctx, http.MethodPost, "/rooms", room, room)
}

func (d *HTTPDirectory) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	var room domain.Room
	if err := d.do(ctx, http.MethodGet, "/rooms/"+string(id), nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (d *HTTPDirectory) List(ctx context.Context) ([]*domain.Room, error) {
	var rooms []*domain.Room
	if err := d.do(ctx, http.MethodGet, "/rooms", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (d *HTTPDirectory) Join(ctx context.Context, id domain.RoomID, user domain.UserID) error {
	return d.do(ctx, http.MethodPost, "/rooms/"+string(id)+"/join", nil, nil)
}

func (d *HTTPDirectory) Leave(ctx context.Context, id domain.RoomID, user domain.UserID) error {
	return d.do(ctx, http.MethodPost, "/rooms/"+string(id)+"/leave", nil, nil)
}
