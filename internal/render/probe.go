package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/andresmejia3/veil/internal/fault"
	"github.com/andresmejia3/veil/internal/geometry"
	"github.com/andresmejia3/veil/internal/utils"
)

// StreamInfo is what the renderer needs to know about a source file.
type StreamInfo struct {
	Width    int
	Height   int
	Rotation geometry.RotationHint
	Duration float64 // seconds, 0 when unknown
	Frames   int     // 0 when the container does not say
	HasAudio bool
}

// Geometry resolves the display geometry of the first video stream.
func (s *StreamInfo) Geometry() (geometry.Geometry, error) {
	return geometry.Resolve(s.Width, s.Height, s.Rotation)
}

// Helper structs for structured ffprobe JSON parsing
type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

type ffprobeStream struct {
	CodecType string            `json:"codec_type"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	NbFrames  string            `json:"nb_frames"`
	Duration  string            `json:"duration"`
	Tags      map[string]string `json:"tags"`
	SideData  []struct {
		Type     string   `json:"side_data_type"`
		Rotation *float64 `json:"rotation"`
	} `json:"side_data_list"`
}

// Probe runs ffprobe on path. Any failure to read the stream, including a
// file with no video stream, is fault.ErrGeometryUnavailable.
func (r *Renderer) Probe(ctx context.Context, path string) (*StreamInfo, error) {
	cmd := utils.NewSafeCommand(ctx, r.opts.FFprobe,
		"-v", "error", "-print_format", "json", "-show_streams", "-show_format", path)
	out, err := cmd.Output()
	if err != nil {
		if tail := cmd.StderrTail(StderrTailBytes); tail != "" {
			err = fmt.Errorf("%w: %s", err, tail)
		}
		return nil, fault.Geometry("probe", err)
	}

	info, err := parseProbe(out)
	if err != nil {
		return nil, fault.Geometry("probe", err)
	}
	r.log.Debug().
		Str("path", path).
		Int("width", info.Width).
		Int("height", info.Height).
		Bool("audio", info.HasAudio).
		Float64("duration", info.Duration).
		Msg("probed source")
	return info, nil
}

func parseProbe(data []byte) (*StreamInfo, error) {
	var res ffprobeOutput
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}

	info := &StreamInfo{}
	var video *ffprobeStream
	for i := range res.Streams {
		s := &res.Streams[i]
		switch s.CodecType {
		case "video":
			if video == nil {
				video = s
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if video == nil {
		return nil, errors.New("no video stream")
	}

	info.Width, info.Height = video.Width, video.Height
	info.Rotation = rotationHint(video)

	if n, err := strconv.Atoi(video.NbFrames); err == nil && n > 0 {
		info.Frames = n
	}
	for _, d := range []string{res.Format.Duration, video.Duration} {
		if v, err := strconv.ParseFloat(d, 64); err == nil && v > 0 {
			info.Duration = v
			break
		}
	}
	return info, nil
}

// rotationHint prefers the display matrix rotation over the legacy rotate
// tag. A fractional matrix rotation is handed over as a tag so geometry
// resolution rejects it.
func rotationHint(s *ffprobeStream) geometry.RotationHint {
	hint := geometry.RotationHint{Tag: s.Tags["rotate"]}
	for _, sd := range s.SideData {
		if sd.Rotation == nil {
			continue
		}
		r := *sd.Rotation
		if r != math.Trunc(r) {
			hint.Tag = strconv.FormatFloat(r, 'f', -1, 64)
			break
		}
		d := int(r)
		hint.Degrees = &d
		break
	}
	return hint
}
