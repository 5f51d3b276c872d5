package onvif

import (
	"context"
	"fmt"

	"github.com/wildnest/camgate/internal/xmltree"
)

// Preset is a stored camera position addressed by an opaque token.
type Preset struct {
	Token string
	Name  string
}

// ContinuousMove starts continuous motion with the given normalized
// velocity vector. Pan/tilt are in [-1,1], zoom in [-1,1].
func (c *Client) ContinuousMove(ctx context.Context, profileToken string, pan, tilt, zoom float64) error {
	body := fmt.Sprintf(`<tptz:ContinuousMove>
<tptz:ProfileToken>%s</tptz:ProfileToken>
<tptz:Velocity>
<tt:PanTilt x="%.3f" y="%.3f"/>
<tt:Zoom x="%.3f"/>
</tptz:Velocity>
</tptz:ContinuousMove>`, profileToken, pan, tilt, zoom)

	_, err := c.call(ctx, ptzPath, body, true)
	return err
}

// StopPTZ halts pan, tilt and zoom motion.
func (c *Client) StopPTZ(ctx context.Context, profileToken string) error {
	body := fmt.Sprintf(`<tptz:Stop>
<tptz:ProfileToken>%s</tptz:ProfileToken>
<tptz:PanTilt>true</tptz:PanTilt>
<tptz:Zoom>true</tptz:Zoom>
</tptz:Stop>`, profileToken)

	_, err := c.call(ctx, ptzPath, body, true)
	return err
}

// GetPresets lists the stored presets for a profile.
func (c *Client) GetPresets(ctx context.Context, profileToken string) ([]Preset, error) {
	body := fmt.Sprintf(`<tptz:GetPresets>
<tptz:ProfileToken>%s</tptz:ProfileToken>
</tptz:GetPresets>`, profileToken)

	tree, err := c.call(ctx, ptzPath, body, true)
	if err != nil {
		return nil, err
	}

	var presets []Preset
	for _, el := range tree.All("Preset") {
		token := el.SelectAttrValue("token", "")
		if token == "" {
			continue
		}
		presets = append(presets, Preset{
			Token: token,
			Name:  xmltree.ChildText(el, "Name"),
		})
	}
	return presets, nil
}

// GotoPreset moves the camera to a stored preset.
func (c *Client) GotoPreset(ctx context.Context, profileToken, presetToken string) error {
	body := fmt.Sprintf(`<tptz:GotoPreset>
<tptz:ProfileToken>%s</tptz:ProfileToken>
<tptz:PresetToken>%s</tptz:PresetToken>
</tptz:GotoPreset>`, profileToken, presetToken)

	_, err := c.call(ctx, ptzPath, body, true)
	return err
}

// SetPreset stores the current position under the given name and returns
// the device-assigned preset token.
func (c *Client) SetPreset(ctx context.Context, profileToken, name string) (string, error) {
	body := fmt.Sprintf(`<tptz:SetPreset>
<tptz:ProfileToken>%s</tptz:ProfileToken>
<tptz:PresetName>%s</tptz:PresetName>
</tptz:SetPreset>`, profileToken, name)

	tree, err := c.call(ctx, ptzPath, body, true)
	if err != nil {
		return "", err
	}
	return tree.Text("PresetToken"), nil
}

// GotoHome moves the camera to its home position.
func (c *Client) GotoHome(ctx context.Context, profileToken string) error {
	body := fmt.Sprintf(`<tptz:GotoHomePosition>
<tptz:ProfileToken>%s</tptz:ProfileToken>
</tptz:GotoHomePosition>`, profileToken)

	_, err := c.call(ctx, ptzPath, body, true)
	return err
}

// SetHome stores the current position as home.
func (c *Client) SetHome(ctx context.Context, profileToken string) error {
	body := fmt.Sprintf(`<tptz:SetHomePosition>
<tptz:ProfileToken>%s</tptz:ProfileToken>
</tptz:SetHomePosition>`, profileToken)

	_, err := c.call(ctx, ptzPath, body, true)
	return err
}
