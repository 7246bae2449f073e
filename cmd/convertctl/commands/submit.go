package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/convert-forge/internal/jobs"
)

var (
	submitType     string
	submitLevel    string
	submitWait     bool
	submitOutDir   string
	submitInterval time.Duration
	submitTimeout  time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit FILE",
	Short: "Submit a conversion job",
	Long: `Upload FILE and enqueue a conversion job.
With --wait the command polls until the job finishes and downloads the result.`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitType, "type", "t", "", "job type, e.g. ConvertDocToText or CompressImage (required)")
	submitCmd.Flags().StringVarP(&submitLevel, "level", "l", "", "compression level: low, medium or high")
	submitCmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "wait for the job and download the result")
	submitCmd.Flags().StringVarP(&submitOutDir, "out", "o", ".", "directory for the downloaded result (with --wait)")
	submitCmd.Flags().DurationVar(&submitInterval, "interval", time.Second, "status polling interval")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 30*time.Minute, "maximum time to wait")
	_ = submitCmd.MarkFlagRequired("type")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), submitTimeout)
	defer cancel()

	c := newClient(serverURL, apiKey)
	jobID, err := c.submit(ctx, args[0], submitType, submitLevel)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, jobID)
	if !submitWait {
		return nil
	}

	last := -1
	record, err := c.wait(ctx, jobID, submitInterval, func(r *jobs.Record) {
		if r.Progress.Percent != last {
			last = r.Progress.Percent
			fmt.Fprintf(cmd.ErrOrStderr(), "%3d%% %s\n", r.Progress.Percent, r.Progress.Stage)
		}
	})
	if err != nil {
		return fmt.Errorf("wait: %w", err)
	}
	if record.Status == jobs.StatusFailed {
		if record.Error != nil {
			return fmt.Errorf("job %s failed: %s: %s", jobID, record.Error.Code, record.Error.Message)
		}
		return fmt.Errorf("job %s failed", jobID)
	}

	path, err := c.download(ctx, jobID, submitOutDir)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	if record.Outcome != nil && record.Outcome.Diagnostic() {
		fmt.Fprintf(cmd.ErrOrStderr(), "all conversion tiers failed; diagnostic report saved\n")
	}
	fmt.Fprintln(out, path)
	return nil
}
