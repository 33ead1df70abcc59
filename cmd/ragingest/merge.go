package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dgallion1/ragingest/internal/fragment"
	"github.com/dgallion1/ragingest/internal/merge"
	"github.com/spf13/cobra"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <fragments.json>",
	Short: "Merge a JSON fragment array and print the result",
	Long: `Read a JSON array of flat fragments, fold body text under its heading path and
print the merged fragments as JSON. Missing parent references are reported on
stderr.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read fragments: %w", err)
		}
		var in []fragment.Fragment
		if err := json.Unmarshal(data, &in); err != nil {
			return fmt.Errorf("decode fragments: %w", err)
		}

		res := merge.Merge(in)
		for _, d := range res.Diagnostics {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning:", d.Error())
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		out := res.Fragments
		if out == nil {
			out = []fragment.Fragment{}
		}
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)
}
