package xmltree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildnest/camgate/internal/errors"
)

const probeMatch = `<?xml version="1.0" encoding="UTF-8"?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://www.w3.org/2003/05/soap-envelope"
    xmlns:d="http://schemas.xmlsoap.org/ws/2005/04/discovery">
  <SOAP-ENV:Body>
    <d:ProbeMatches>
      <d:ProbeMatch>
        <d:Scopes>onvif://www.onvif.org/name/FrontDoor onvif://www.onvif.org/hardware/IPC-123</d:Scopes>
        <d:XAddrs>http://192.168.1.64/onvif/device_service</d:XAddrs>
      </d:ProbeMatch>
    </d:ProbeMatches>
  </SOAP-ENV:Body>
</SOAP-ENV:Envelope>`

func TestParse_NamespaceAgnosticLookup(t *testing.T) {
	tree, err := Parse([]byte(probeMatch))
	require.NoError(t, err)

	assert.Equal(t, "http://192.168.1.64/onvif/device_service", tree.Text("XAddrs"))
	assert.Contains(t, tree.Text("Scopes"), "name/FrontDoor")
	assert.NotNil(t, tree.First("ProbeMatch"))
	assert.Len(t, tree.All("ProbeMatch"), 1)
}

func TestParse_MissingFieldIsEmpty(t *testing.T) {
	tree, err := Parse([]byte(`<a><b>x</b></a>`))
	require.NoError(t, err)

	assert.Empty(t, tree.Text("nothere"))
	assert.Nil(t, tree.First("nothere"))
}

func TestParse_MalformedIsTypedError(t *testing.T) {
	_, err := Parse([]byte(`<a><b></a>`))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryProtocolParse))

	_, err = Parse([]byte(``))
	assert.Error(t, err)
}

func TestChildText(t *testing.T) {
	tree, err := Parse([]byte(`<root><item><name> first </name></item><item><name>second</name></item></root>`))
	require.NoError(t, err)

	items := tree.All("item")
	require.Len(t, items, 2)
	assert.Equal(t, "first", ChildText(items[0], "name"))
	assert.Equal(t, "second", ChildText(items[1], "name"))
	assert.Empty(t, ChildText(items[0], "missing"))
	assert.Empty(t, ChildText(nil, "name"))
}
