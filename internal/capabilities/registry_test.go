package capabilities

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

func fastClient(baseURL string) *NPMRegistryClient {
	c := NewNPMRegistryClient(baseURL, "")
	c.backoff = Backoff{Initial: time.Millisecond, Coefficient: 2, MaxAttempts: 3}
	return c
}

func TestNPMRegistryClient_LookupNotFoundIsUnpublished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	lookup, err := c.Lookup(context.Background(), "widgets")
	require.NoError(t, err)
	assert.False(t, lookup.Published)
}

func TestNPMRegistryClient_LookupPublishedParsesLatestVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(npmDistTags{DistTags: map[string]string{"latest": "2.3.4"}})
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	lookup, err := c.Lookup(context.Background(), "widgets")
	require.NoError(t, err)
	assert.True(t, lookup.Published)
	assert.Equal(t, "2.3.4", lookup.Version)
}

func TestNPMRegistryClient_LookupRetriesOnServerErrorThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(npmDistTags{DistTags: map[string]string{"latest": "1.0.0"}})
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	lookup, err := c.Lookup(context.Background(), "widgets")
	require.NoError(t, err)
	assert.True(t, lookup.Published)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNPMRegistryClient_LookupUnexpectedStatusTreatedAsUnpublished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	lookup, err := c.Lookup(context.Background(), "widgets")
	require.NoError(t, err)
	assert.False(t, lookup.Published)
}

func TestNPMRegistryClient_LookupExhaustsRetriesOnPersistentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	_, err := c.Lookup(context.Background(), "widgets")
	assert.Error(t, err)
}
