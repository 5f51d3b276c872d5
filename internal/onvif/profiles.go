package onvif

import (
	"context"
	"fmt"
	"strconv"

	"github.com/wildnest/camgate/internal/errors"
	"github.com/wildnest/camgate/internal/xmltree"
)

// GetProfiles queries the device's media profiles with their encoder
// resolutions. Profiles without a token are skipped.
func (c *Client) GetProfiles(ctx context.Context) ([]MediaProfile, error) {
	tree, err := c.call(ctx, mediaPath, `<trt:GetProfiles/>`, true)
	if err != nil {
		return nil, err
	}

	var profiles []MediaProfile
	for _, el := range tree.All("Profiles") {
		token := el.SelectAttrValue("token", "")
		if token == "" {
			continue
		}
		profile := MediaProfile{
			Token: token,
			Name:  xmltree.ChildText(el, "Name"),
		}
		if res := el.FindElement(".//Resolution"); res != nil {
			profile.Width = atoiSafe(xmltree.ChildText(res, "Width"))
			profile.Height = atoiSafe(xmltree.ChildText(res, "Height"))
		}
		profiles = append(profiles, profile)
	}

	if len(profiles) == 0 {
		return nil, errors.Newf("device returned no media profiles").
			Component("onvif").
			Category(errors.CategoryProtocolParse).
			Context("operation", "get_profiles").
			Build()
	}
	return profiles, nil
}

// GetStreamURI resolves the RTSP URI for a profile token.
func (c *Client) GetStreamURI(ctx context.Context, profileToken string) (string, error) {
	body := fmt.Sprintf(`<trt:GetStreamUri>
<trt:StreamSetup>
<tt:Stream>RTP-Unicast</tt:Stream>
<tt:Transport><tt:Protocol>RTSP</tt:Protocol></tt:Transport>
</trt:StreamSetup>
<trt:ProfileToken>%s</trt:ProfileToken>
</trt:GetStreamUri>`, profileToken)

	tree, err := c.call(ctx, mediaPath, body, true)
	if err != nil {
		return "", err
	}

	uri := tree.Text("Uri")
	if uri == "" {
		return "", errors.Newf("stream URI missing from response").
			Component("onvif").
			Category(errors.CategoryProtocolParse).
			Context("operation", "get_stream_uri").
			Context("profile", profileToken).
			Build()
	}
	return uri, nil
}

func atoiSafe(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
