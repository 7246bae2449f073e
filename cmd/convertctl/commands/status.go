package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status JOB_ID",
	Short: "Show the status of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		record, err := newClient(serverURL, apiKey).status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if statusJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(record)
		}

		fmt.Fprintf(out, "job:      %s\n", record.JobID)
		fmt.Fprintf(out, "type:     %s\n", record.Type)
		fmt.Fprintf(out, "status:   %s (%d%%)\n", record.Status, record.Progress.Percent)
		if record.Progress.Stage != "" {
			fmt.Fprintf(out, "stage:    %s\n", record.Progress.Stage)
		}
		if record.Outcome != nil {
			fmt.Fprintf(out, "tier:     %s\n", record.Outcome.TierUsed)
			for i, a := range record.Outcome.Attempts {
				fmt.Fprintf(out, "  %d. %s [%s] %s\n", i+1, a.Tier, a.Reason, a.Message)
			}
		}
		if record.DownloadURL != "" {
			fmt.Fprintf(out, "download: %s\n", record.DownloadURL)
		}
		if record.Error != nil {
			fmt.Fprintf(out, "error:    %s: %s\n", record.Error.Code, record.Error.Message)
		}
		return nil
	},
}

var downloadDir string

var downloadCmd = &cobra.Command{
	Use:   "download JOB_ID",
	Short: "Download the result of a completed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := newClient(serverURL, apiKey).download(cmd.Context(), args[0], downloadDir)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw job record")
	rootCmd.AddCommand(statusCmd)

	cwd, _ := os.Getwd()
	downloadCmd.Flags().StringVarP(&downloadDir, "out", "o", cwd, "output directory")
	rootCmd.AddCommand(downloadCmd)
}
