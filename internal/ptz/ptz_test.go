package ptz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectKind(t *testing.T) {
	tests := []struct {
		name         string
		configured   string
		manufacturer string
		model        string
		want         Kind
	}{
		{"explicit onvif wins", "onvif", "Dahua", "SD22204", StandardProtocol},
		{"explicit cgi wins", "cgi", "Axis", "P5534", VendorCGI},
		{"auto matches cgi vendor", "auto", "Dahua Technology", "SD22204", VendorCGI},
		{"auto matches model string", "auto", "", "Amcrest IP2M-841", VendorCGI},
		{"auto defaults to standard", "auto", "Axis", "P5534", StandardProtocol},
		{"empty config defaults to standard", "", "", "", StandardProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectKind(tt.configured, tt.manufacturer, tt.model))
		})
	}
}

func TestDirectionCode(t *testing.T) {
	tests := []struct {
		pan, tilt, zoom float64
		want            string
	}{
		{0, 1, 0, "Up"},
		{0, -1, 0, "Down"},
		{-1, 0, 0, "Left"},
		{1, 0, 0, "Right"},
		{-0.5, 0.5, 0, "LeftUp"},
		{0.5, 0.5, 0, "RightUp"},
		{-0.5, -0.5, 0, "LeftDown"},
		{0.5, -0.5, 0, "RightDown"},
		{0, 0, 1, "ZoomTele"},
		{0, 0, -1, "ZoomWide"},
		{0.05, 0.05, 0.05, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, directionCode(tt.pan, tt.tilt, tt.zoom),
			"pan=%v tilt=%v zoom=%v", tt.pan, tt.tilt, tt.zoom)
	}
}

// countingBackend records calls for controller tests.
type countingBackend struct {
	stopCalls atomic.Int64
	stopErr   error
}

func (b *countingBackend) Kind() Kind { return VendorCGI }
func (b *countingBackend) ContinuousMove(context.Context, float64, float64, float64) error {
	return nil
}
func (b *countingBackend) Stop(context.Context) error {
	b.stopCalls.Add(1)
	return b.stopErr
}
func (b *countingBackend) RelativeMove(context.Context, float64, float64, float64) error {
	return nil
}
func (b *countingBackend) ListPresets(context.Context) ([]Preset, error)   { return nil, nil }
func (b *countingBackend) GotoPreset(context.Context, string) error        { return nil }
func (b *countingBackend) SetPreset(context.Context, string) (string, error) {
	return "", nil
}
func (b *countingBackend) GotoHome(context.Context) error { return nil }
func (b *countingBackend) SetHome(context.Context) error  { return nil }

func TestGetCapabilities_SingleFlight(t *testing.T) {
	backend := &countingBackend{}
	ctrl := NewController(backend)

	const callers = 8
	results := make([]Capabilities, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = ctrl.GetCapabilities(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), backend.stopCalls.Load(), "probe must run once")
	for _, caps := range results {
		assert.Equal(t, results[0], caps, "concurrent callers share the result")
	}
	assert.True(t, results[0].Supported)
	assert.False(t, results[0].AbsoluteMove, "cgi backend has no absolute positioning")
}

func TestGetCapabilities_ProbeFailureMeansUnsupported(t *testing.T) {
	backend := &countingBackend{stopErr: context.DeadlineExceeded}
	ctrl := NewController(backend)

	caps := ctrl.GetCapabilities(context.Background())
	assert.False(t, caps.Supported)

	// Cached: a second call does not re-probe.
	_ = ctrl.GetCapabilities(context.Background())
	assert.Equal(t, int64(1), backend.stopCalls.Load())
}

// cgiServer fakes a digest-protected ptz.cgi endpoint and records the
// authenticated commands it accepts.
type cgiServer struct {
	mu         sync.Mutex
	challenges int
	commands   []url.Values
	reply      string // response body, "OK" when empty
}

func (s *cgiServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Digest ") {
			s.mu.Lock()
			s.challenges++
			s.mu.Unlock()
			w.Header().Set("WWW-Authenticate",
				`Digest realm="camgate-test", qop="auth", nonce="deadbeef", opaque="cafe"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.mu.Lock()
		s.commands = append(s.commands, r.URL.Query())
		reply := s.reply
		s.mu.Unlock()
		if reply == "" {
			reply = "OK"
		}
		_, _ = w.Write([]byte(reply))
	}
}

func (s *cgiServer) commandList() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]url.Values, len(s.commands))
	copy(out, s.commands)
	return out
}

func newTestCGIBackend(t *testing.T, server *cgiServer) *CGIBackend {
	t.Helper()
	ts := httptest.NewServer(server.handler())
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	host := u.Hostname()
	port := 80
	if p := u.Port(); p != "" {
		port = mustAtoi(t, p)
	}
	return NewCGIBackend(host, port, "admin", "secret", 0, 0.5,
		WithCGITimeout(2*time.Second))
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	var v int
	for _, r := range s {
		require.True(t, r >= '0' && r <= '9')
		v = v*10 + int(r-'0')
	}
	return v
}

func TestCGIBackend_DigestRetryOnce(t *testing.T) {
	server := &cgiServer{}
	backend := newTestCGIBackend(t, server)

	err := backend.GotoPreset(context.Background(), "3")
	require.NoError(t, err)

	commands := server.commandList()
	require.Len(t, commands, 1)
	assert.Equal(t, "start", commands[0].Get("action"))
	assert.Equal(t, "GotoPreset", commands[0].Get("code"))
	assert.Equal(t, "3", commands[0].Get("arg2"))
	assert.Equal(t, 1, server.challenges, "exactly one challenge answered")
}

func TestCGIBackend_MoveThenTargetedStop(t *testing.T) {
	server := &cgiServer{}
	backend := newTestCGIBackend(t, server)

	// First move: no in-flight code, so the leading stop covers all codes.
	require.NoError(t, backend.ContinuousMove(context.Background(), 1, 0, 0))
	afterMove := len(server.commandList())
	assert.Equal(t, len(allDirectionCodes)+1, afterMove)

	last := server.commandList()[afterMove-1]
	assert.Equal(t, "start", last.Get("action"))
	assert.Equal(t, "Right", last.Get("code"))

	// Known in-flight code: stop targets just that one.
	require.NoError(t, backend.Stop(context.Background()))
	commands := server.commandList()
	require.Len(t, commands, afterMove+1)
	stop := commands[len(commands)-1]
	assert.Equal(t, "stop", stop.Get("action"))
	assert.Equal(t, "Right", stop.Get("code"))
}

func TestCGIBackend_ErrorBodyIsFailure(t *testing.T) {
	server := &cgiServer{reply: "Error"}
	backend := newTestCGIBackend(t, server)

	err := backend.GotoPreset(context.Background(), "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Error")
}

func TestCGIBackend_DefensiveStopAllCodes(t *testing.T) {
	server := &cgiServer{}
	backend := newTestCGIBackend(t, server)

	require.NoError(t, backend.Stop(context.Background()))

	commands := server.commandList()
	require.Len(t, commands, len(allDirectionCodes))
	seen := map[string]bool{}
	for _, cmd := range commands {
		assert.Equal(t, "stop", cmd.Get("action"))
		seen[cmd.Get("code")] = true
	}
	for _, code := range allDirectionCodes {
		assert.True(t, seen[code], "missing stop for %s", code)
	}
}

func TestCGIBackend_HomeUsesSlotOne(t *testing.T) {
	server := &cgiServer{}
	backend := newTestCGIBackend(t, server)

	require.NoError(t, backend.SetHome(context.Background()))
	require.NoError(t, backend.GotoHome(context.Background()))

	commands := server.commandList()
	require.Len(t, commands, 2)
	assert.Equal(t, "SetPreset", commands[0].Get("code"))
	assert.Equal(t, "1", commands[0].Get("arg2"))
	assert.Equal(t, "GotoPreset", commands[1].Get("code"))
	assert.Equal(t, "1", commands[1].Get("arg2"))
}

func TestCGIBackend_InvalidPresetSlot(t *testing.T) {
	backend := NewCGIBackend("192.0.2.1", 80, "a", "b", 0, 0.5)
	assert.Error(t, backend.GotoPreset(context.Background(), "front-door"))
	assert.Error(t, backend.GotoPreset(context.Background(), "0"))
}

func TestCGIBackend_ListPresetsEnumeratesSlots(t *testing.T) {
	backend := NewCGIBackend("192.0.2.1", 80, "a", "b", 0, 0.5)
	presets, err := backend.ListPresets(context.Background())
	require.NoError(t, err)
	require.Len(t, presets, cgiPresetSlots)
	assert.Equal(t, "1", presets[0].Token)
	assert.Equal(t, "10", presets[len(presets)-1].Token)
}
