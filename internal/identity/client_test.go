package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance-portal/internal/directory"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/users/f1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "f1", "name": "Asha Rao", "role": "faculty"})
	})
	mux.HandleFunc("/users/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "db down", http.StatusInternalServerError)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetUser(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL+"/", time.Second)
	ctx := context.Background()

	u, err := c.GetUser(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", u.Name)
	assert.Equal(t, directory.RoleFaculty, u.Role)

	_, err = c.GetUser(ctx, "ghost")
	assert.ErrorIs(t, err, directory.ErrNotFound)

	_, err = c.GetUser(ctx, "broken")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = c.GetUser(ctx, "")
	assert.ErrorIs(t, err, directory.ErrNotFound)
}

func TestHealth(t *testing.T) {
	srv := newServer(t)
	assert.NoError(t, New(srv.URL, time.Second).Health(context.Background()))

	srv.Close()
	assert.ErrorIs(t, New(srv.URL, time.Second).Health(context.Background()), ErrUnavailable)
}
