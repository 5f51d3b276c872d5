package stream

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const probeTimeout = 15 * time.Second

// StreamInfo is the result of a one-shot source inspection.
type StreamInfo struct {
	Codec     string
	Width     int
	Height    int
	FrameRate float64
}

// ProbeStream inspects the source with a one-shot ffprobe run. Failures are
// non-fatal by contract: callers receive nil info and may proceed without
// it.
func (s *Supervisor) ProbeStream(ctx context.Context) *StreamInfo {
	if s.settings.FfprobePath == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "v:0",
	}
	if strings.HasPrefix(s.sourceURL, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args, s.sourceURL)

	out, err := exec.CommandContext(ctx, s.settings.FfprobePath, args...).Output()
	if err != nil {
		s.logger.Debug("stream probe failed",
			"error", err,
			"operation", "probe_stream")
		return nil
	}
	return parseProbeOutput(out)
}

func parseProbeOutput(data []byte) *StreamInfo {
	var doc struct {
		Streams []struct {
			CodecName    string `json:"codec_name"`
			Width        int    `json:"width"`
			Height       int    `json:"height"`
			AvgFrameRate string `json:"avg_frame_rate"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(data, &doc); err != nil || len(doc.Streams) == 0 {
		return nil
	}

	v := doc.Streams[0]
	return &StreamInfo{
		Codec:     v.CodecName,
		Width:     v.Width,
		Height:    v.Height,
		FrameRate: parseFrameRate(v.AvgFrameRate),
	}
}

// parseFrameRate handles ffprobe's fractional "30000/1001" notation.
func parseFrameRate(raw string) float64 {
	num, den, found := strings.Cut(raw, "/")
	if !found {
		v, _ := strconv.ParseFloat(raw, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
