package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger, _ := zap.NewDevelopment()
	client := NewClient(srv.URL, 100, 5*time.Second, 10*time.Millisecond, 2, logger)
	return client, srv
}

func TestGetByID(t *testing.T) {
	id := uuid.New()
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/"+id.String() {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(UserInfo{
			ID:          id,
			DisplayName: "Test User",
			Username:    "testuser",
			IsVerified:  true,
			IsActive:    true,
		})
	}))

	user, err := client.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if user.Username != "testuser" {
		t.Errorf("expected username 'testuser', got '%s'", user.Username)
	}
	if !user.IsVerified {
		t.Error("expected verified user")
	}
}

func TestGetByIDNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := client.GetByID(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetByIDRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	id := uuid.New()
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(UserInfo{ID: id, Username: "eventually"})
	}))

	user, err := client.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if user.Username != "eventually" {
		t.Errorf("expected username 'eventually', got '%s'", user.Username)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestGetByIDsPartialResults(t *testing.T) {
	known := uuid.New()
	unknown := uuid.New()
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var users []*UserInfo
		for _, id := range req.IDs {
			if id == known {
				users = append(users, &UserInfo{ID: id, Username: "known"})
			}
		}
		_ = json.NewEncoder(w).Encode(batchResponse{Users: users})
	}))

	users, err := client.GetByIDs(context.Background(), []uuid.UUID{known, unknown})
	if err != nil {
		t.Fatalf("GetByIDs failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if _, ok := users[unknown]; ok {
		t.Error("unknown user should be absent from batch result")
	}
}

func TestGetByIDsEmpty(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty batch")
	}))

	users, err := client.GetByIDs(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetByIDs failed: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("expected empty map, got %d entries", len(users))
	}
}
