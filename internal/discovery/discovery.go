// Package discovery implements WS-Discovery multicast probing for network
// cameras.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/ipv4"

	"github.com/wildnest/camgate/internal/errors"
	"github.com/wildnest/camgate/internal/logging"
	"github.com/wildnest/camgate/internal/xmltree"
)

const (
	// MulticastAddr is the WS-Discovery multicast group and port.
	MulticastAddr = "239.255.255.250:3702"

	// DefaultTimeout is the default listen window for probe responses.
	DefaultTimeout = 5 * time.Second

	maxDatagramSize = 8192
)

var discoveryLogger *slog.Logger

func init() {
	discoveryLogger = logging.ForService("discovery")
}

// DeviceDescriptor describes a camera found on the network. It is created on
// a successful probe match and not mutated afterwards.
type DeviceDescriptor struct {
	Address      string // host part of the service address
	Port         int    // port part of the service address
	Name         string
	Manufacturer string
	Model        string
	ServiceAddr  string // full device service URL
}

// probeEnvelope is the WS-Discovery Probe request. The MessageID is unique
// per probe so stale multicast responses can be ignored by the device.
const probeEnvelope = `<?xml version="1.0" encoding="UTF-8"?>
<e:Envelope xmlns:e="http://www.w3.org/2003/05/soap-envelope"
    xmlns:w="http://schemas.xmlsoap.org/ws/2004/08/addressing"
    xmlns:d="http://schemas.xmlsoap.org/ws/2005/04/discovery"
    xmlns:dn="http://www.onvif.org/ver10/network/wsdl">
  <e:Header>
    <w:MessageID>uuid:%s</w:MessageID>
    <w:To e:mustUnderstand="true">urn:schemas-xmlsoap-org:ws:2005:04:discovery</w:To>
    <w:Action e:mustUnderstand="true">http://schemas.xmlsoap.org/ws/2005/04/discovery/Probe</w:Action>
  </e:Header>
  <e:Body>
    <d:Probe>
      <d:Types>dn:NetworkVideoTransmitter</d:Types>
    </d:Probe>
  </e:Body>
</e:Envelope>`

// Probe sends a multicast probe and collects matches until the timeout
// elapses. Responses are deduplicated by service address; malformed
// responses are skipped, not fatal. A timeout with zero matches yields a
// typed discovery-timeout error.
func Probe(ctx context.Context, timeout time.Duration) ([]DeviceDescriptor, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open discovery socket: %w", err)).
			Component("discovery").
			Category(errors.CategoryNetwork).
			Context("operation", "listen").
			Build()
	}
	defer func() { _ = conn.Close() }()

	// Keep probes on the local segment.
	p := ipv4.NewPacketConn(conn)
	_ = p.SetMulticastTTL(2)

	dst, err := net.ResolveUDPAddr("udp4", MulticastAddr)
	if err != nil {
		return nil, errors.New(err).
			Component("discovery").
			Category(errors.CategoryNetwork).
			Context("operation", "resolve_multicast").
			Build()
	}

	messageID := uuid.New().String()
	probe := fmt.Sprintf(probeEnvelope, messageID)
	if _, err := conn.WriteTo([]byte(probe), dst); err != nil {
		return nil, errors.New(fmt.Errorf("failed to send probe: %w", err)).
			Component("discovery").
			Category(errors.CategoryNetwork).
			Context("operation", "send_probe").
			Build()
	}

	discoveryLogger.Info("sent discovery probe",
		"message_id", messageID,
		"timeout_seconds", timeout.Seconds(),
		"operation", "probe")

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetReadDeadline(deadline)

	seen := make(map[string]bool)
	var found []DeviceDescriptor
	buf := make([]byte, maxDatagramSize)

	for {
		if ctx.Err() != nil {
			break
		}
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			// Deadline reached ends the listen window.
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				break
			}
			discoveryLogger.Debug("discovery read error", "error", err, "operation", "read")
			break
		}

		descriptor, ok := parseProbeMatch(buf[:n], addr)
		if !ok {
			continue
		}
		if seen[descriptor.ServiceAddr] {
			continue
		}
		seen[descriptor.ServiceAddr] = true
		found = append(found, descriptor)

		discoveryLogger.Info("camera discovered",
			"name", descriptor.Name,
			"address", descriptor.Address,
			"service_addr", descriptor.ServiceAddr,
			"operation", "probe_match")
	}

	if len(found) == 0 {
		return nil, errors.Newf("no cameras responded within %s", timeout).
			Component("discovery").
			Category(errors.CategoryDiscoveryTimeout).
			Context("operation", "probe").
			Context("timeout_seconds", timeout.Seconds()).
			Build()
	}
	return found, nil
}

// parseProbeMatch extracts a descriptor from one probe-match datagram.
// Field extraction is best effort: missing scopes leave fields empty, and a
// response without a usable service address is skipped.
func parseProbeMatch(data []byte, from net.Addr) (DeviceDescriptor, bool) {
	tree, err := xmltree.Parse(data)
	if err != nil {
		discoveryLogger.Debug("skipping malformed probe response",
			"from", from.String(),
			"error", err,
			"operation", "parse_probe_match")
		return DeviceDescriptor{}, false
	}

	// XAddrs may list several transport addresses; the first one wins.
	xaddrs := strings.Fields(tree.Text("XAddrs"))
	if len(xaddrs) == 0 {
		return DeviceDescriptor{}, false
	}
	serviceAddr := xaddrs[0]

	host, port := splitServiceAddr(serviceAddr)
	if host == "" {
		return DeviceDescriptor{}, false
	}

	descriptor := DeviceDescriptor{
		Address:     host,
		Port:        port,
		ServiceAddr: serviceAddr,
	}

	for _, scope := range strings.Fields(tree.Text("Scopes")) {
		switch {
		case strings.Contains(scope, "/name/"):
			descriptor.Name = scopeValue(scope, "/name/")
		case strings.Contains(scope, "/manufacturer/"):
			descriptor.Manufacturer = scopeValue(scope, "/manufacturer/")
		case strings.Contains(scope, "/hardware/"):
			descriptor.Model = scopeValue(scope, "/hardware/")
		}
	}

	return descriptor, true
}

// scopeValue decodes the URL-escaped value after the marker in an ONVIF
// scope URI.
func scopeValue(scope, marker string) string {
	idx := strings.Index(scope, marker)
	if idx < 0 {
		return ""
	}
	value := scope[idx+len(marker):]
	if decoded, err := url.PathUnescape(value); err == nil {
		value = decoded
	}
	return value
}

// splitServiceAddr returns the host and port of a device service URL,
// defaulting the port to 80.
func splitServiceAddr(serviceAddr string) (host string, port int) {
	u, err := url.Parse(serviceAddr)
	if err != nil || u.Host == "" {
		return "", 0
	}
	host = u.Hostname()
	port = 80
	if p := u.Port(); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			port = parsed
		}
	}
	return host, port
}
