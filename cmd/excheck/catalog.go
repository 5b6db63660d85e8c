package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"excheck/internal/catalog"
)

func newCatalogCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Validate the exercise catalog and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load(opts.catalogPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d exercise(s)\n", opts.catalogPath, len(cat.Exercises))
			for _, exercise := range cat.Exercises {
				title := exercise.Title
				if title == "" {
					title = exercise.ID
				}
				fmt.Fprintf(out, "  %-20s %-30s %d rule(s)\n", exercise.ID, title, len(exercise.Rules))
			}
			return nil
		},
	}
}
