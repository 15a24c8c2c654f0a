package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reforma-ai/ragqa/engine/rag"
)

var queryTopK int

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Show the fragments retrieved for a query",
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

		topK := queryTopK
		if !cmd.Flags().Changed("top-k") {
			topK = cfg.Retrieve.TopK
		}
		res, err := rt.retriever().Retrieve(cmd.Context(), strings.Join(args, " "), topK)
		if err != nil {
			return err
		}
		printResult(cmd, res)
		return nil
	},
}

func printResult(cmd *cobra.Command, res rag.Result) {
	out := cmd.OutOrStdout()
	if res.Empty() {
		fmt.Fprintln(out, res.TraceText())
		return
	}
	fmt.Fprintln(out, res.Context)
	fmt.Fprintln(out)
	fmt.Fprintln(out, res.TraceText())
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", rag.DefaultTopK, "number of fragments")
	rootCmd.AddCommand(queryCmd)
}
