package discovery

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const probeMatchTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://www.w3.org/2003/05/soap-envelope"
    xmlns:wsdd="http://schemas.xmlsoap.org/ws/2005/04/discovery">
  <SOAP-ENV:Body>
    <wsdd:ProbeMatches>
      <wsdd:ProbeMatch>
        <wsdd:Scopes>%s</wsdd:Scopes>
        <wsdd:XAddrs>%s</wsdd:XAddrs>
      </wsdd:ProbeMatch>
    </wsdd:ProbeMatches>
  </SOAP-ENV:Body>
</SOAP-ENV:Envelope>`

var testAddr = &net.UDPAddr{IP: net.IPv4(192, 168, 1, 64), Port: 3702}

func TestParseProbeMatch(t *testing.T) {
	scopes := "onvif://www.onvif.org/name/Front%20Door " +
		"onvif://www.onvif.org/manufacturer/ACME " +
		"onvif://www.onvif.org/hardware/IPC-123"
	body := fmt.Sprintf(probeMatchTemplate, scopes, "http://192.168.1.64:8000/onvif/device_service")

	descriptor, ok := parseProbeMatch([]byte(body), testAddr)
	require.True(t, ok)

	assert.Equal(t, "192.168.1.64", descriptor.Address)
	assert.Equal(t, 8000, descriptor.Port)
	assert.Equal(t, "Front Door", descriptor.Name)
	assert.Equal(t, "ACME", descriptor.Manufacturer)
	assert.Equal(t, "IPC-123", descriptor.Model)
	assert.Equal(t, "http://192.168.1.64:8000/onvif/device_service", descriptor.ServiceAddr)
}

func TestParseProbeMatch_FirstAddressWins(t *testing.T) {
	body := fmt.Sprintf(probeMatchTemplate, "",
		"http://192.168.1.64/onvif/device_service http://10.0.0.5/onvif/device_service")

	descriptor, ok := parseProbeMatch([]byte(body), testAddr)
	require.True(t, ok)

	assert.Equal(t, "192.168.1.64", descriptor.Address)
	assert.Equal(t, 80, descriptor.Port)
}

func TestParseProbeMatch_SkipsBadResponses(t *testing.T) {
	// Malformed XML
	_, ok := parseProbeMatch([]byte("<broken"), testAddr)
	assert.False(t, ok)

	// Well-formed but no XAddrs
	body := `<Envelope><Body><ProbeMatches><ProbeMatch><Scopes>x</Scopes></ProbeMatch></ProbeMatches></Body></Envelope>`
	_, ok = parseProbeMatch([]byte(body), testAddr)
	assert.False(t, ok)

	// XAddrs that is not a URL
	body = fmt.Sprintf(probeMatchTemplate, "", "::::")
	_, ok = parseProbeMatch([]byte(body), testAddr)
	assert.False(t, ok)
}

func TestScopeValue(t *testing.T) {
	assert.Equal(t, "Cam One", scopeValue("onvif://www.onvif.org/name/Cam%20One", "/name/"))
	assert.Equal(t, "IPC-123", scopeValue("onvif://www.onvif.org/hardware/IPC-123", "/hardware/"))
	assert.Empty(t, scopeValue("onvif://www.onvif.org/location/garden", "/name/"))
}

func TestSplitServiceAddr(t *testing.T) {
	host, port := splitServiceAddr("http://10.1.2.3:8899/onvif/device_service")
	assert.Equal(t, "10.1.2.3", host)
	assert.Equal(t, 8899, port)

	host, port = splitServiceAddr("http://10.1.2.3/onvif/device_service")
	assert.Equal(t, "10.1.2.3", host)
	assert.Equal(t, 80, port)

	host, _ = splitServiceAddr("not a url")
	assert.Empty(t, host)
}
