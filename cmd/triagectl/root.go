package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "triagectl",
		Short: "Inspect how the triage pipeline sees a message",
		Long: `triagectl runs single stages of the triage pipeline from the command line:
signal extraction and fingerprints, classification, and the match score used when
grouping a message into a recent ticket in the same channel.`,
		SilenceUsage: true,
	}

	root.AddCommand(newFingerprintCmd())
	root.AddCommand(newClassifyCmd())
	root.AddCommand(newScoreCmd())
	return root
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
