package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yourusername/convert-forge/internal/docparse"
	"github.com/yourusername/convert-forge/internal/layout"
)

var (
	layoutJSON    bool
	layoutEpsilon float64
)

var layoutCmd = &cobra.Command{
	Use:   "layout FILE",
	Short: "Print the reconstructed text of a PDF",
	Long: `Extract positioned text from a PDF and rebuild its reading order locally,
without going through the server or the queue.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pages, err := docparse.NewParser().Parse(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		doc := layout.Reconstructor{Epsilon: layoutEpsilon}.Reconstruct(pages)

		out := cmd.OutOrStdout()
		if layoutJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		}
		_, err = fmt.Fprintln(out, layout.Flatten(doc))
		return err
	},
}

func init() {
	layoutCmd.Flags().BoolVar(&layoutJSON, "json", false, "print pages, lines and fragments as JSON")
	layoutCmd.Flags().Float64Var(&layoutEpsilon, "epsilon", layout.DefaultEpsilon, "maximum y distance for fragments on one line")
	rootCmd.AddCommand(layoutCmd)
}
