package qdrant

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{URL: srv.URL, Collection: "test", Timeout: 2 * time.Second})
}

func TestLenCountsPoints(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/test/points/count", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, true, req["exact"])
		w.Write([]byte(`{"result":{"count":42}}`))
	})

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestLenPropagatesServerError(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := s.Len()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qdrant POST")
}

func TestLenUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	s := New(Config{URL: srv.URL, Collection: "test", Timeout: time.Second})

	_, err := s.Len()
	require.Error(t, err)
}
