package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/veil/internal/logging"
	"github.com/andresmejia3/veil/internal/redact"
	"github.com/andresmejia3/veil/internal/render"
	"github.com/andresmejia3/veil/internal/types"
	"github.com/andresmejia3/veil/internal/utils"
	"github.com/spf13/cobra"
)

type planFlags struct {
	Options
	Width       int
	Height      int
	Rotation    int
	RotateTag   string
	FilterOnly  bool
	rotationSet bool
}

var planOpts planFlags

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the filter graph for a set of faces without rendering",
	Long: `Compiles the faces file into an ffmpeg filter graph and prints it as JSON.
Geometry comes from --width/--height (and optionally --rotation or --rotate-tag),
or from probing --input.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if !cmd.Flags().Changed("padding") {
			planOpts.Padding = Cfg.Redact.Padding
		}
		planOpts.rotationSet = cmd.Flags().Changed("rotation")
		return runPlan(cmd.Context(), cmd.OutOrStdout(), planOpts)
	},
}

func init() {
	planCmd.Flags().StringVarP(&planOpts.InputPath, "input", "i", "", "Probe this video for geometry")
	planCmd.Flags().StringVarP(&planOpts.FacesPath, "faces", "f", "", "Path to faces file (.json, .yaml)")
	planCmd.Flags().Float64VarP(&planOpts.Padding, "padding", "p", 0.3, "Box padding as a fraction of the longer side")
	planCmd.Flags().IntVar(&planOpts.Width, "width", 0, "Raw stream width")
	planCmd.Flags().IntVar(&planOpts.Height, "height", 0, "Raw stream height")
	planCmd.Flags().IntVar(&planOpts.Rotation, "rotation", 0, "Rotation in degrees")
	planCmd.Flags().StringVar(&planOpts.RotateTag, "rotate-tag", "", "Raw rotate tag as found in container metadata")
	planCmd.Flags().BoolVar(&planOpts.FilterOnly, "filter-only", false, "Print only the -filter_complex string")

	planCmd.MarkFlagRequired("faces")
	planCmd.MarkFlagsMutuallyExclusive("rotation", "rotate-tag")
	rootCmd.AddCommand(planCmd)
}

func runPlan(ctx context.Context, w io.Writer, opts planFlags) error {
	faces, err := loadFaces(opts.FacesPath)
	if err != nil {
		utils.ShowError("Failed to read faces file", err, nil)
		return err
	}

	log := logging.WithComponent("cli")
	proc := redact.New(nil, render.New(renderOptions(Cfg), log), redact.Options{Padding: opts.Padding}, log)

	var res *types.PlanResult
	if opts.InputPath != "" {
		prep, err := proc.Prepare(ctx, opts.InputPath, faces)
		if err != nil {
			utils.ShowError("Failed to plan redaction", err, nil)
			return err
		}
		res, err = redact.Describe(prep.Geometry, prep.Plan, prep.Graph)
		if err != nil {
			return err
		}
	} else {
		if opts.Width <= 0 || opts.Height <= 0 {
			err := fmt.Errorf("--width and --height are required without --input")
			utils.ShowError("Configuration Error", err, nil)
			return err
		}
		res, err = proc.Plan(planRequest(opts, faces))
		if err != nil {
			utils.ShowError("Failed to plan redaction", err, nil)
			return err
		}
	}

	return writePlan(w, res, opts.FilterOnly)
}

func planRequest(opts planFlags, faces []types.FaceDetection) types.PlanRequest {
	req := types.PlanRequest{
		Width:     opts.Width,
		Height:    opts.Height,
		RotateTag: opts.RotateTag,
		Faces:     faces,
	}
	if opts.rotationSet {
		rot := opts.Rotation
		req.Rotation = &rot
	}
	padding := opts.Padding
	req.Padding = &padding
	return req
}

func writePlan(w io.Writer, res *types.PlanResult, filterOnly bool) error {
	if filterOnly {
		if res.Passthrough {
			fmt.Fprintln(os.Stderr, "No faces: the source is re-encoded without a filter graph.")
			return nil
		}
		_, err := fmt.Fprintln(w, res.Filter)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
