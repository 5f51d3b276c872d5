// Package onvif implements the authenticated control protocol client for
// device identity, media profiles, stream URIs, clock synchronization and
// PTZ service calls.
package onvif

import (
	"context"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // mandated by the WS-Security UsernameToken profile
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wildnest/camgate/internal/errors"
	"github.com/wildnest/camgate/internal/httpclient"
	"github.com/wildnest/camgate/internal/logging"
	"github.com/wildnest/camgate/internal/xmltree"
)

const (
	// Service paths on the device. Most cameras expose all services on the
	// device service path as well, so these are conventions, not guarantees.
	devicePath = "/onvif/device_service"
	mediaPath  = "/onvif/media_service"
	ptzPath    = "/onvif/ptz_service"

	contentTypeSOAP = "application/soap+xml; charset=utf-8"

	// maxClockSkew is the tolerated difference between local and device
	// clocks before authenticated timestamps get adjusted.
	maxClockSkew = 5 * time.Second

	createdFormat = "2006-01-02T15:04:05.000Z"
)

var clientLogger *slog.Logger

func init() {
	clientLogger = logging.ForService("onvif")
}

// Credentials authenticate control protocol calls. Empty credentials omit
// the security header entirely.
type Credentials struct {
	Username string
	Password string
}

// Client is an authenticated ONVIF control client for a single camera.
// The measured clock offset, once set, is applied to every subsequent
// authenticated request until re-measured.
type Client struct {
	host        string
	port        int
	credentials Credentials
	http        *httpclient.Client
	timeout     time.Duration
	clockOffset time.Duration
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Used by tests.
func WithHTTPClient(hc *httpclient.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-call timeout, default 10s.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.timeout = timeout }
}

// NewClient creates a control client for the camera at host:port.
func NewClient(host string, port int, credentials Credentials, opts ...Option) *Client {
	c := &Client{
		host:        host,
		port:        port,
		credentials: credentials,
		timeout:     httpclient.DefaultTimeout,
		logger:      clientLogger.With("host", host),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpclient.New(&httpclient.Config{DefaultTimeout: c.timeout})
	}
	return c
}

// ClockOffset returns the measured device clock offset.
func (c *Client) ClockOffset() time.Duration {
	return c.clockOffset
}

// endpoint builds a full service URL for one of the service paths.
func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("http://%s:%d%s", c.host, c.port, path)
}

const envelopeTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"
    xmlns:tds="http://www.onvif.org/ver10/device/wsdl"
    xmlns:trt="http://www.onvif.org/ver10/media/wsdl"
    xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl"
    xmlns:tt="http://www.onvif.org/ver10/schema">%s<s:Body>%s</s:Body>
</s:Envelope>`

const securityTemplate = `<s:Header>
<wsse:Security xmlns:wsse="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
    xmlns:wsu="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd" s:mustUnderstand="true">
<wsse:UsernameToken>
<wsse:Username>%s</wsse:Username>
<wsse:Password Type="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest">%s</wsse:Password>
<wsse:Nonce EncodingType="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary">%s</wsse:Nonce>
<wsu:Created>%s</wsu:Created>
</wsse:UsernameToken>
</wsse:Security>
</s:Header>`

// securityHeader builds a WS-Security UsernameToken header with a fresh
// random nonce. The password digest is SHA1(nonce + created + password); a
// new nonce per request provides replay resistance.
func (c *Client) securityHeader() (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	created := time.Now().Add(c.clockOffset).UTC().Format(createdFormat)

	h := sha1.New() //nolint:gosec // see package comment on the token profile
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(c.credentials.Password))
	digest := base64.StdEncoding.EncodeToString(h.Sum(nil))

	return fmt.Sprintf(securityTemplate,
		c.credentials.Username,
		digest,
		base64.StdEncoding.EncodeToString(nonce),
		created), nil
}

// call posts a SOAP body to the given service path and returns the parsed
// response tree. authenticated controls whether the security header is
// attached; the clock probe must run unauthenticated.
func (c *Client) call(ctx context.Context, path, body string, authenticated bool) (*xmltree.Tree, error) {
	header := ""
	if authenticated && c.credentials.Username != "" {
		var err error
		header, err = c.securityHeader()
		if err != nil {
			return nil, errors.New(err).
				Component("onvif").
				Category(errors.CategoryAuthentication).
				Context("operation", "build_security_header").
				Build()
		}
	}

	envelope := fmt.Sprintf(envelopeTemplate, header, body)

	resp, err := c.http.Post(ctx, c.endpoint(path), contentTypeSOAP, envelope)
	if err != nil {
		category := errors.CategoryNetwork
		if ctx.Err() != nil || isTimeout(err) {
			category = errors.CategoryTimeout
		}
		return nil, errors.New(fmt.Errorf("soap call failed: %w", err)).
			Component("onvif").
			Category(category).
			Context("operation", "soap_call").
			Context("path", path).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to read soap response: %w", err)).
			Component("onvif").
			Category(errors.CategoryNetwork).
			Context("operation", "soap_call").
			Build()
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, authError("device rejected credentials", path)
	}

	tree, parseErr := xmltree.Parse(data)

	// Faults arrive as HTTP 400/500 with a SOAP fault body. Distinguish
	// auth faults from the rest so callers can react.
	if resp.StatusCode != http.StatusOK {
		if tree != nil && isAuthFault(tree) {
			return nil, authError("device returned authentication fault", path)
		}
		return nil, errors.Newf("soap call returned status %d", resp.StatusCode).
			Component("onvif").
			Category(errors.CategoryProtocolParse).
			Context("operation", "soap_call").
			Context("path", path).
			Context("status", resp.StatusCode).
			Build()
	}

	if parseErr != nil {
		return nil, parseErr
	}
	if isAuthFault(tree) {
		return nil, authError("device returned authentication fault", path)
	}
	return tree, nil
}

func authError(msg, path string) error {
	return errors.Newf("%s", msg).
		Component("onvif").
		Category(errors.CategoryAuthentication).
		Context("operation", "soap_call").
		Context("path", path).
		Build()
}

// isAuthFault detects the common NotAuthorized fault subcodes.
func isAuthFault(tree *xmltree.Tree) bool {
	if tree.First("Fault") == nil {
		return false
	}
	for _, el := range tree.All("Value") {
		text := strings.TrimSpace(el.Text())
		if strings.Contains(text, "NotAuthorized") || strings.Contains(text, "FailedAuthentication") {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var te timeouter
	return errors.As(err, &te) && te.Timeout()
}
