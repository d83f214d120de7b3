package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/listing-harvester/internal/hash/sha256"
)

// newInspectCmd creates the 'inspect' subcommand, which prints the identifiers
// committed for one page with the size and digest of each stored detail page.
func newInspectCmd() *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the identifiers stored in a page checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if page < 1 {
				return fmt.Errorf("--page must be >= 1")
			}
			result, err := appInstance.Store().Load(page)
			if err != nil {
				return fmt.Errorf("inspect page %d: %w", page, err)
			}

			ids := make([]string, 0, len(result))
			for id := range result {
				ids = append(ids, id)
			}
			slices.Sort(ids)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d item(s)\n", appInstance.Store().Name(page), len(ids))
			for _, id := range ids {
				fmt.Fprintf(out, "%s\t%d bytes\t%s\n", id, len(result[id]), sha256.Tagged(result[id]))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "page number to inspect")
	_ = cmd.MarkFlagRequired("page")
	return cmd
}
