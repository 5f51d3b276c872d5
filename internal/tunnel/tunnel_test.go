package tunnel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildnest/camgate/internal/conf"
)

func TestQuickMode_URLFromOutput(t *testing.T) {
	m := NewManager(conf.TunnelSettings{Mode: ModeQuick}, "http://localhost:8080")

	m.handleLine("2026-08-25T10:00:00Z INF +--------------------------------+")
	assert.Equal(t, StateEstablishing, m.State())
	assert.Empty(t, m.PublicURL())

	m.handleLine("2026-08-25T10:00:01Z INF |  https://witty-crab-1234.trycloudflare.com  |")
	assert.Equal(t, StateEstablished, m.State())
	assert.Equal(t, "https://witty-crab-1234.trycloudflare.com", m.PublicURL())

	select {
	case <-m.Ready():
	default:
		t.Fatal("ready channel not closed")
	}
}

func TestNamedMode_ConnectionMarker(t *testing.T) {
	m := NewManager(conf.TunnelSettings{
		Mode:     ModeNamed,
		Token:    "tok",
		Hostname: "cam.example.com",
	}, "http://localhost:8080")

	m.handleLine("2026-08-25T10:00:01Z INF Registered tunnel connection connIndex=0")
	assert.Equal(t, StateEstablished, m.State())
	assert.Equal(t, "https://cam.example.com", m.PublicURL())
}

func TestNamedMode_HostnameFallbackAfterTimeout(t *testing.T) {
	m := NewManager(conf.TunnelSettings{
		Mode:              ModeNamed,
		Token:             "tok",
		Hostname:          "cam.example.com",
		EstablishTimeoutS: 1,
	}, "http://localhost:8080")

	go m.armEstablishTimeout()

	require.Eventually(t, func() bool { return m.State() == StateEstablished },
		3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "https://cam.example.com", m.PublicURL())
}

func TestQuickMode_TimeoutWithoutURLFails(t *testing.T) {
	m := NewManager(conf.TunnelSettings{
		Mode:              ModeQuick,
		EstablishTimeoutS: 1,
	}, "http://localhost:8080")

	go m.armEstablishTimeout()

	require.Eventually(t, func() bool { return m.State() == StateFailed },
		3*time.Second, 20*time.Millisecond)
	assert.Empty(t, m.PublicURL())
}

func TestPublicURLClearedOnExit(t *testing.T) {
	m := NewManager(conf.TunnelSettings{Mode: ModeQuick}, "http://localhost:8080")
	m.handleLine("https://witty-crab-1234.trycloudflare.com")
	require.NotEmpty(t, m.PublicURL())

	m.handleExit(assert.AnError)
	assert.Empty(t, m.PublicURL())
	assert.Equal(t, StateEstablishing, m.State())
}

func TestBuildArgs(t *testing.T) {
	named := NewManager(conf.TunnelSettings{Mode: ModeNamed, Token: "tok"}, "http://localhost:8080")
	args, err := named.buildArgs()
	require.NoError(t, err)
	assert.Equal(t, []string{"tunnel", "--no-autoupdate", "run", "--token", "tok"}, args)

	quick := NewManager(conf.TunnelSettings{Mode: ModeQuick}, "http://localhost:8080")
	args, err = quick.buildArgs()
	require.NoError(t, err)
	assert.Equal(t, []string{"tunnel", "--no-autoupdate", "--url", "http://localhost:8080"}, args)

	namedNoToken := NewManager(conf.TunnelSettings{Mode: ModeNamed}, "http://localhost:8080")
	_, err = namedNoToken.buildArgs()
	assert.Error(t, err)
}

func TestDisabledMode(t *testing.T) {
	m := NewManager(conf.TunnelSettings{}, "http://localhost:8080")
	assert.False(t, m.Enabled())
	assert.Equal(t, StateDisabled, m.State())
	assert.NoError(t, m.Start())
}
