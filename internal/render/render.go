// Package render drives ffmpeg: it probes sources, serializes compiled
// graphs into filter_complex descriptions and runs the encode.
package render

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/veil/internal/fault"
	"github.com/andresmejia3/veil/internal/graph"
	"github.com/andresmejia3/veil/internal/utils"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// StderrTailBytes bounds the ffmpeg diagnostics carried by a render failure.
const StderrTailBytes = 1000

// Options controls the encoder. The graph compiler never sees any of it.
type Options struct {
	FFmpeg     string
	FFprobe    string
	VideoCodec string
	Preset     string
	CRF        int
	AudioCodec string
	Timeout    time.Duration
}

// DefaultOptions encodes H.264/AAC suitable for progressive web playback.
func DefaultOptions() Options {
	return Options{
		FFmpeg:     "ffmpeg",
		FFprobe:    "ffprobe",
		VideoCodec: "libx264",
		Preset:     "fast",
		CRF:        23,
		AudioCodec: "aac",
		Timeout:    600 * time.Second,
	}
}

// Progress is one report from ffmpeg's -progress stream.
type Progress struct {
	OutTime time.Duration
	Frame   int
	Done    bool
}

// Renderer runs ffprobe and ffmpeg.
type Renderer struct {
	opts Options
	log  zerolog.Logger
}

func New(opts Options, log zerolog.Logger) *Renderer {
	def := DefaultOptions()
	if opts.FFmpeg == "" {
		opts.FFmpeg = def.FFmpeg
	}
	if opts.FFprobe == "" {
		opts.FFprobe = def.FFprobe
	}
	if opts.VideoCodec == "" {
		opts.VideoCodec = def.VideoCodec
	}
	if opts.Preset == "" {
		opts.Preset = def.Preset
	}
	if opts.AudioCodec == "" {
		opts.AudioCodec = def.AudioCodec
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	return &Renderer{opts: opts, log: log.With().Str("component", "render").Logger()}
}

// Args builds the ffmpeg argument list that renders g from in to out.
// A passthrough graph re-encodes the first video stream without filters.
func Args(g *graph.Graph, in, out string, opts Options) ([]string, error) {
	filter, sink, err := FilterComplex(g)
	if err != nil {
		return nil, err
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-nostats", "-y", "-i", in}
	if g.Passthrough {
		args = append(args, "-map", "0:v:0")
	} else {
		args = append(args, "-filter_complex", filter, "-map", sink)
	}
	args = append(args,
		"-map", "0:a?",
		"-c:v", opts.VideoCodec,
		"-preset", opts.Preset,
		"-crf", strconv.Itoa(opts.CRF),
		"-c:a", opts.AudioCodec,
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		out,
	)
	return args, nil
}

// Render runs ffmpeg for g. onProgress, if set, is called from a separate
// goroutine for every progress block. The render is killed when ctx is done
// or the configured timeout elapses.
func (r *Renderer) Render(ctx context.Context, g *graph.Graph, in, out string, onProgress func(Progress)) error {
	args, err := Args(g, in, out, r.opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	cmd := utils.NewSafeCommand(ctx, r.opts.FFmpeg, args...)
	pr, pw := io.Pipe()
	cmd.Stdout = pw

	r.log.Debug().Strs("args", args).Msg("starting ffmpeg")
	start := time.Now()
	if err := cmd.Start(); err != nil {
		pw.Close()
		return fault.Render("start ffmpeg", "", err)
	}

	var grp errgroup.Group
	grp.Go(func() error {
		defer pr.Close()
		return readProgress(pr, onProgress)
	})
	grp.Go(func() error {
		err := cmd.Wait()
		pw.Close()
		return err
	})

	if err := grp.Wait(); err != nil {
		tail := cmd.StderrTail(StderrTailBytes)
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			err = fmt.Errorf("ffmpeg timed out after %s: %w", r.opts.Timeout, ctx.Err())
		case ctx.Err() != nil:
			err = fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		r.log.Error().Err(err).Str("stderr", tail).Msg("render failed")
		return fault.Render("render", tail, err)
	}

	r.log.Info().
		Str("output", out).
		Dur("elapsed", time.Since(start)).
		Int("nodes", len(g.Nodes)).
		Msg("render complete")
	return nil
}

// readProgress consumes ffmpeg's key=value progress stream. Each block ends
// with a progress=continue or progress=end line.
func readProgress(r io.Reader, onProgress func(Progress)) error {
	var cur Progress
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms":
			// Both keys are microseconds.
			if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
				cur.OutTime = time.Duration(us) * time.Microsecond
			}
		case "frame":
			if n, err := strconv.Atoi(value); err == nil {
				cur.Frame = n
			}
		case "progress":
			cur.Done = value == "end"
			if onProgress != nil {
				onProgress(cur)
			}
		}
	}
	return scanner.Err()
}
