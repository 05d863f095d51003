package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"attendance-portal/internal/directory"
)

// ErrUnavailable is returned when the identity provider cannot be reached
// or answers with an unexpected status.
var ErrUnavailable = errors.New("identity provider unavailable")

// Client resolves portal users against the external identity provider.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client with configurable timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type userResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	BranchID string `json:"branch_id"`
	BatchID  string `json:"batch_id"`
	RollNo   string `json:"roll_no"`
}

// GetUser fetches one user. A 404 maps to directory.ErrNotFound so callers
// can treat both resolvers alike.
func (c *Client) GetUser(ctx context.Context, id string) (directory.User, error) {
	if id == "" {
		return directory.User{}, directory.ErrNotFound
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/users/"+url.PathEscape(id), nil)
	if err != nil {
		return directory.User{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return directory.User{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return directory.User{}, directory.ErrNotFound
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return directory.User{}, fmt.Errorf("%w: %s: %s", ErrUnavailable, resp.Status, string(body))
	}

	var out userResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return directory.User{}, fmt.Errorf("decode identity response: %w", err)
	}
	if out.ID == "" {
		return directory.User{}, errors.New("identity response missing id")
	}
	return directory.User{
		ID:       out.ID,
		Name:     out.Name,
		Email:    out.Email,
		Role:     directory.Role(out.Role),
		BranchID: out.BranchID,
		BatchID:  out.BatchID,
		RollNo:   out.RollNo,
	}, nil
}

// Health checks if the identity provider is available.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	}
	return nil
}
