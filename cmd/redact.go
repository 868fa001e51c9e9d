package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresmejia3/veil/internal/fault"
	"github.com/andresmejia3/veil/internal/logging"
	"github.com/andresmejia3/veil/internal/redact"
	"github.com/andresmejia3/veil/internal/render"
	"github.com/andresmejia3/veil/internal/types"
	"github.com/andresmejia3/veil/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var redactOpts Options

var redactCmd = &cobra.Command{
	Use:   "redact",
	Short: "Blur faces in a local video file",
	Long: `Blurs the face boxes listed in a JSON or YAML file and writes an H.264 MP4.
The faces file holds either a list of faces or an object with a "faces" list;
coordinates are fractions of the displayed frame.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if !cmd.Flags().Changed("padding") {
			redactOpts.Padding = Cfg.Redact.Padding
		}
		return runRedact(cmd.Context(), redactOpts)
	},
}

func init() {
	redactCmd.Flags().StringVarP(&redactOpts.InputPath, "input", "i", "", "Path to input video")
	redactCmd.Flags().StringVarP(&redactOpts.OutputPath, "output", "o", "redacted.mp4", "Path to output video")
	redactCmd.Flags().StringVarP(&redactOpts.FacesPath, "faces", "f", "", "Path to faces file (.json, .yaml)")
	redactCmd.Flags().Float64VarP(&redactOpts.Padding, "padding", "p", 0.3, "Box padding as a fraction of the longer side")
	redactCmd.Flags().StringVar(&redactOpts.Timeout, "timeout", "", "Render timeout (e.g. '10m'); defaults to render.timeout")

	redactCmd.MarkFlagRequired("input")
	redactCmd.MarkFlagRequired("faces")
	rootCmd.AddCommand(redactCmd)
}

func runRedact(ctx context.Context, opts Options) error {
	if err := validateRedactFlags(&opts); err != nil {
		return err
	}

	faces, err := loadFaces(opts.FacesPath)
	if err != nil {
		utils.ShowError("Failed to read faces file", err, nil)
		return err
	}

	ropts := renderOptions(Cfg)
	if opts.RenderTimeout > 0 {
		ropts.Timeout = opts.RenderTimeout
	}
	log := logging.WithComponent("cli")
	renderer := render.New(ropts, log)
	// Local runs never touch object storage.
	proc := redact.New(nil, renderer, redact.Options{Padding: opts.Padding, MaxConcurrent: 1}, log)

	fmt.Fprintln(os.Stderr, "🔍 Probing source...")
	prep, err := proc.Prepare(ctx, opts.InputPath, faces)
	if err != nil {
		utils.ShowError("Failed to plan redaction", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "🎬 %s\n", prep)

	barTotal := int64(prep.Info.Frames)
	if barTotal <= 0 {
		barTotal = -1 // Trigger spinner mode
	}
	bar := progressbar.NewOptions64(barTotal,
		progressbar.OptionSetDescription("Redacting"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	err = proc.Render(ctx, prep, opts.InputPath, opts.OutputPath, func(p render.Progress) {
		bar.Set(p.Frame)
		if p.Done {
			bar.Finish()
		}
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		utils.ShowError("Render failed", err, nil)
		if detail := fault.DetailOf(err); detail != "" {
			fmt.Fprintf(os.Stderr, "\nFFMPEG LOGS:\n%s\n", detail)
		}
		return err
	}

	if info, err := os.Stat(opts.OutputPath); err == nil {
		fmt.Fprintf(os.Stderr, "✅ Wrote %s (%s)\n", opts.OutputPath, utils.HumanBytes(info.Size()))
	}
	return nil
}

// loadFaces reads a faces file. YAML is chosen by extension, anything else
// is parsed as JSON.
func loadFaces(path string) ([]types.FaceDetection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		Faces []types.FaceDetection `json:"faces" yaml:"faces"`
	}
	var list []types.FaceDetection

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &list); err == nil {
			return list, nil
		}
		if err := yaml.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &list); err == nil {
			return list, nil
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return wrapped.Faces, nil
}

func validateRedactFlags(opts *Options) error {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			utils.ShowError("Input file does not exist", err, nil)
			return err
		}
		utils.ShowError("Unable to access input file", err, nil)
		return err
	}
	if info.IsDir() {
		err := fmt.Errorf("is a directory")
		utils.ShowError("Input path is a directory, expected a video file", err, nil)
		return err
	}

	// Safety Check: Prevent overwriting input file which causes corruption
	inAbs, _ := filepath.Abs(opts.InputPath)
	outAbs, _ := filepath.Abs(opts.OutputPath)
	if inAbs == outAbs {
		err := fmt.Errorf("input and output paths must be different to prevent file corruption")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	if opts.FacesPath == "" {
		err := fmt.Errorf("--faces is required")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	if math.IsNaN(opts.Padding) || math.IsInf(opts.Padding, 0) || opts.Padding < 0 {
		err := fmt.Errorf("must be a finite number >= 0, got %g", opts.Padding)
		utils.ShowError("Invalid padding", err, nil)
		return err
	}

	if opts.Timeout != "" {
		d, err := time.ParseDuration(opts.Timeout)
		if err != nil {
			utils.ShowError("Invalid timeout format (use '90s', '10m')", err, nil)
			return err
		}
		if d <= 0 {
			err := fmt.Errorf("must be positive, got %s", d)
			utils.ShowError("Invalid timeout", err, nil)
			return err
		}
		opts.RenderTimeout = d
	}

	return nil
}
