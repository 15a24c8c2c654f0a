package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reforma-ai/ragqa/engine/collection"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset-collection",
	Short: "Drop and recreate the vector collection",
	Long: `Deletes the configured collection with all of its points and creates it
again with the configured dimension and distance. Requires --yes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetYes {
			return errors.New("refusing to drop the collection without --yes")
		}
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		rt, err := buildRuntime(cfg, log)
		if err != nil {
			return err
		}
		defer rt.Close()

		m := collection.NewManager(rt.store, collection.WithLogger(log))
		if err := m.Reset(cmd.Context(), rt.spec); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Collection %q recreated (dimension %d, %s)\n",
			rt.spec.Name, rt.spec.Dimension, rt.spec.Distance)
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "confirm dropping every point")
	rootCmd.AddCommand(resetCmd)
}
