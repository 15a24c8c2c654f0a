package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reforma-ai/ragqa/engine/rag"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		rt, err := buildRuntime(cfg, log)
		if err != nil {
			return err
		}
		defer rt.Close()

		assistant, err := rt.assistant()
		if err != nil {
			return err
		}
		ans, err := assistant.Ask(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), rag.FallbackAnswer(err))
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ans.Markdown())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
}
