package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostNotification(t *testing.T) {
	t.Run("Should send JSON body with bearer token", func(t *testing.T) {
		var got map[string]interface{}
		var auth, contentType string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			contentType = r.Header.Get("Content-Type")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		client := NewClient(srv.URL+"/", "s3cret", time.Second)
		assert.Equal(t, srv.URL, client.URL())

		err := client.PostNotification(context.Background(), map[string]interface{}{
			"worker_id":   7,
			"description": "Re-nail studs",
		})
		require.NoError(t, err)

		assert.Equal(t, "Bearer s3cret", auth)
		assert.Contains(t, contentType, "application/json")
		assert.Equal(t, "Re-nail studs", got["description"])
		assert.EqualValues(t, 7, got["worker_id"])
	})

	t.Run("Should omit authorization without token", func(t *testing.T) {
		var auth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
		}))
		defer srv.Close()

		client := NewClient(srv.URL, "", time.Second)
		require.NoError(t, client.PostNotification(context.Background(), map[string]string{}))
		assert.Empty(t, auth)
	})

	t.Run("Should retry on server errors", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		client := NewClient(srv.URL, "", time.Second)
		client.SetRetryWait(time.Millisecond, 5*time.Millisecond)

		require.NoError(t, client.PostNotification(context.Background(), map[string]string{"a": "b"}))
		assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	})

	t.Run("Should fail on client errors without retrying", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("bad payload"))
		}))
		defer srv.Close()

		client := NewClient(srv.URL, "", time.Second)
		client.SetRetryWait(time.Millisecond, 5*time.Millisecond)

		err := client.PostNotification(context.Background(), map[string]string{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 400")
		assert.Contains(t, err.Error(), "bad payload")
		assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	})

	t.Run("Should reject missing URL", func(t *testing.T) {
		client := NewClient("", "", 0)
		err := client.PostNotification(context.Background(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not configured")
	})
}
