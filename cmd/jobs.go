package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/andresmejia3/veil/internal/types"
	"github.com/andresmejia3/veil/internal/utils"
	"github.com/spf13/cobra"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:         "jobs",
	Short:       "List recent redaction jobs from the ledger",
	Annotations: map[string]string{dbAnnotation: dbRequired},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runJobs(cmd.Context(), cmd.OutOrStdout(), jobsLimit)
	},
}

func init() {
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "Maximum number of jobs to show")
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(ctx context.Context, out io.Writer, limit int) error {
	jobs, err := DB.ListJobs(ctx, limit)
	if err != nil {
		utils.ShowError("Failed to list jobs", err, nil)
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found in ledger.")
		return nil
	}

	printJobs(out, jobs)
	return nil
}

func printJobs(out io.Writer, jobs []types.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSOURCE\tREGIONS\tCREATED")
	fmt.Fprintln(w, "--\t------\t------\t-------\t-------")

	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s/%s\t%d\t%s\n", j.ID, j.Status, j.Bucket, j.SourcePath, j.RegionCount, j.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
