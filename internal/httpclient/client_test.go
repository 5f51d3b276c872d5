package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_UserAgentInjected(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := New(nil)
	defer c.Close()

	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, "camgate", gotUA)
}

func TestDo_DefaultTimeoutApplied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	c := New(&Config{DefaultTimeout: 50 * time.Millisecond})
	defer c.Close()

	_, err := c.Get(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestDo_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	c := New(nil)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Get(ctx, srv.URL)
	assert.Error(t, err)
}

func TestPost_StringBody(t *testing.T) {
	var gotBody string
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		gotContentType = r.Header.Get("Content-Type")
	}))
	defer srv.Close()

	c := New(nil)
	defer c.Close()

	resp, err := c.Post(context.Background(), srv.URL, "application/soap+xml", "<Envelope/>")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, "<Envelope/>", gotBody)
	assert.Equal(t, "application/soap+xml", gotContentType)
}

func TestDo_NilRequest(t *testing.T) {
	c := New(nil)
	defer c.Close()

	_, err := c.Do(context.Background(), nil)
	assert.Error(t, err)
}
