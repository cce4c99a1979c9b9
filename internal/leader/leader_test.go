package leader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticGate(t *testing.T) {
	ok, err := StaticGate(true).IsLeader(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = StaticGate(false).IsLeader(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSidecarGate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"replica-0"}`))
	}))
	defer srv.Close()

	ok, err := NewSidecarGate(srv.URL, "replica-0").IsLeader(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = NewSidecarGate(srv.URL, "replica-1").IsLeader(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	// Empty identity: any successful answer counts.
	ok, err = NewSidecarGate(srv.URL, "").IsLeader(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSidecarGate_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewSidecarGate(srv.URL, "replica-0").IsLeader(context.Background())
	assert.Error(t, err)
}
