package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/veil/internal/store"
	"github.com/andresmejia3/veil/internal/types"
	"github.com/andresmejia3/veil/internal/utils"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:         "show <job-id>",
	Short:       "Show a redaction job and its blurred regions",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{dbAnnotation: dbRequired},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runShow(cmd.Context(), cmd.OutOrStdout(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(ctx context.Context, out io.Writer, jobID string) error {
	job, err := DB.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrJobNotFound) {
		fmt.Fprintf(out, "❌ No job with ID %s.\n", jobID)
		return err
	}
	if err != nil {
		utils.ShowError("Failed to load job", err, nil)
		return err
	}

	regions, err := DB.GetJobRegions(ctx, jobID)
	if err != nil {
		utils.ShowError("Failed to retrieve regions", err, nil)
		return err
	}

	printJob(out, job, regions)
	return nil
}

func printJob(out io.Writer, job *types.Job, regions []types.RegionRecord) {
	fmt.Fprintf(out, "Job:      %s\n", job.ID)
	fmt.Fprintf(out, "Status:   %s\n", job.Status)
	fmt.Fprintf(out, "Source:   %s/%s\n", job.Bucket, job.SourcePath)
	fmt.Fprintf(out, "Output:   %s/%s\n", job.Bucket, job.OutputPath)
	if job.DisplayWidth > 0 {
		fmt.Fprintf(out, "Frame:    %dx%d (rotation %d)\n", job.DisplayWidth, job.DisplayHeight, job.Rotation)
	}
	if job.URL != "" {
		fmt.Fprintf(out, "URL:      %s\n", job.URL)
	}
	if job.Status == types.JobFailed {
		fmt.Fprintf(out, "Failure:  %s\n", job.FailureKind)
		if job.FailureDetail != "" {
			fmt.Fprintf(out, "\n%s\n", job.FailureDetail)
		}
	}
	if job.FinishedAt != nil {
		fmt.Fprintf(out, "Took:     %s\n", job.FinishedAt.Sub(job.CreatedAt).Round(time.Millisecond))
	}

	if len(regions) == 0 {
		fmt.Fprintln(out, "\nNo recorded regions.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "\n#\tBOX\tTIME RANGE")
	fmt.Fprintln(w, "-\t---\t----------")
	for _, r := range regions {
		end := "end"
		if r.End != nil {
			end = fmtTime(*r.End)
		}
		fmt.Fprintf(w, "%d\t%dx%d+%d+%d\t%s - %s\n", r.Index, r.Width, r.Height, r.X, r.Y, fmtTime(r.Start), end)
	}
	w.Flush()
}

func fmtTime(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
