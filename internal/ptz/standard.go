package ptz

import (
	"context"
	"math"
	"time"

	"github.com/wildnest/camgate/internal/onvif"
)

// relativeMoveScale converts a requested normalized magnitude into a motion
// duration for the timed-stop approximation. Uncalibrated: true displacement
// depends on the camera's motor speed.
const relativeMoveScale = 1200 * time.Millisecond

// StandardBackend drives PTZ through the SOAP PTZ service of an already
// connected control client.
type StandardBackend struct {
	client       *onvif.Client
	profileToken string
	speed        float64
}

// NewStandardBackend binds a control client and media profile token. speed
// scales every velocity vector, clamped to (0,1].
func NewStandardBackend(client *onvif.Client, profileToken string, speed float64) *StandardBackend {
	if speed <= 0 || speed > 1 {
		speed = 0.5
	}
	return &StandardBackend{
		client:       client,
		profileToken: profileToken,
		speed:        speed,
	}
}

func (b *StandardBackend) Kind() Kind { return StandardProtocol }

// ContinuousMove stops any in-flight motion, then starts moving with the
// scaled velocity vector.
func (b *StandardBackend) ContinuousMove(ctx context.Context, pan, tilt, zoom float64) error {
	if err := b.client.StopPTZ(ctx, b.profileToken); err != nil {
		return err
	}
	return b.client.ContinuousMove(ctx, b.profileToken,
		clampUnit(pan)*b.speed,
		clampUnit(tilt)*b.speed,
		clampUnit(zoom)*b.speed)
}

func (b *StandardBackend) Stop(ctx context.Context) error {
	return b.client.StopPTZ(ctx, b.profileToken)
}

// RelativeMove approximates displacement as a continuous move followed by a
// stop after a duration proportional to the requested magnitude.
func (b *StandardBackend) RelativeMove(ctx context.Context, pan, tilt, zoom float64) error {
	if err := b.ContinuousMove(ctx, sign(pan), sign(tilt), sign(zoom)); err != nil {
		return err
	}
	scheduleStop(b, magnitude(pan, tilt, zoom))
	return nil
}

func (b *StandardBackend) ListPresets(ctx context.Context) ([]Preset, error) {
	raw, err := b.client.GetPresets(ctx, b.profileToken)
	if err != nil {
		return nil, err
	}
	presets := make([]Preset, 0, len(raw))
	for _, p := range raw {
		presets = append(presets, Preset{Token: p.Token, Name: p.Name})
	}
	return presets, nil
}

func (b *StandardBackend) GotoPreset(ctx context.Context, token string) error {
	return b.client.GotoPreset(ctx, b.profileToken, token)
}

func (b *StandardBackend) SetPreset(ctx context.Context, name string) (string, error) {
	return b.client.SetPreset(ctx, b.profileToken, name)
}

func (b *StandardBackend) GotoHome(ctx context.Context) error {
	return b.client.GotoHome(ctx, b.profileToken)
}

func (b *StandardBackend) SetHome(ctx context.Context) error {
	return b.client.SetHome(ctx, b.profileToken)
}

// scheduleStop issues the delayed stop for a relative move. The stop runs
// on its own short-lived context so it outlives the caller's.
func scheduleStop(b Backend, mag float64) {
	delay := time.Duration(mag * float64(relativeMoveScale))
	if delay <= 0 {
		delay = relativeMoveScale / 4
	}
	time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.Stop(ctx)
	})
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// magnitude is the largest requested axis displacement, used to scale the
// timed stop.
func magnitude(values ...float64) float64 {
	var m float64
	for _, v := range values {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}
