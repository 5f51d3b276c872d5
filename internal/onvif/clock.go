package onvif

import (
	"context"
	"strconv"
	"time"

	"github.com/beevik/etree"

	"github.com/wildnest/camgate/internal/xmltree"
)

// ProbeClock reads the device's reported UTC time without authentication
// and measures the offset against the local clock. The midpoint of the
// request/response timestamps cancels round-trip latency. Offsets within
// maxClockSkew are treated as zero; larger offsets are stored and applied
// to every subsequent authenticated timestamp until re-measured.
//
// A failed probe is non-fatal: the offset stays at zero and the error is
// returned for logging only.
func (c *Client) ProbeClock(ctx context.Context) (time.Duration, error) {
	before := time.Now()
	tree, err := c.call(ctx, devicePath, `<tds:GetSystemDateAndTime/>`, false)
	after := time.Now()
	if err != nil {
		return 0, err
	}

	deviceTime, ok := parseUTCDateTime(tree)
	if !ok {
		// Device answered but without a usable UTC time, leave offset at 0.
		c.logger.Debug("device reported no usable UTC time", "operation", "probe_clock")
		return 0, nil
	}

	midpoint := before.Add(after.Sub(before) / 2)
	offset := deviceTime.Sub(midpoint)

	if offset < -maxClockSkew || offset > maxClockSkew {
		c.clockOffset = offset
		c.logger.Warn("camera clock drift detected, adjusting authenticated timestamps",
			"offset_seconds", offset.Seconds(),
			"operation", "probe_clock")
	} else {
		c.clockOffset = 0
	}
	return c.clockOffset, nil
}

// parseUTCDateTime assembles a time.Time from the UTCDateTime element of a
// GetSystemDateAndTime response.
func parseUTCDateTime(tree *xmltree.Tree) (time.Time, bool) {
	utc := tree.First("UTCDateTime")
	if utc == nil {
		return time.Time{}, false
	}

	intChild := func(el *etree.Element, name string) (int, bool) {
		v, err := strconv.Atoi(xmltree.ChildText(el, name))
		return v, err == nil
	}

	hour, ok1 := intChild(utc, "Hour")
	minute, ok2 := intChild(utc, "Minute")
	second, ok3 := intChild(utc, "Second")
	year, ok4 := intChild(utc, "Year")
	month, ok5 := intChild(utc, "Month")
	day, ok6 := intChild(utc, "Day")
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return time.Time{}, false
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC), true
}
