package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the top level of the report archive",
	Args:  cobra.NoArgs,
	RunE:  runLs,
}

func init() {
	lsCmd.Flags().Bool("json", false, "print the listing as JSON")
	rootCmd.AddCommand(lsCmd)
}

func runLs(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	library, err := openLibrary(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	entries, err := library.Root(cmd.Context())
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(cmd.OutOrStdout(), entries)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tSIZE\tNAME")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", e.Type, e.Size, e.Name)
	}
	return tw.Flush()
}
