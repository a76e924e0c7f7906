package main

import (
	"strings"

	"github.com/spf13/cobra"

	"nixo.app/triage/internal/filter"
	"nixo.app/triage/internal/normalize"
)

type fingerprintOutput struct {
	Normalized   string                      `json:"normalized"`
	Signals      []string                    `json:"signals"`
	Processable  bool                        `json:"processable"`
	CanonicalKey *string                     `json:"canonical_key"`
	Intent       normalize.IntentFingerprint `json:"intent"`
}

func newFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint [text]",
		Short: "Show signals, canonical key and intent fingerprint for a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			n := normalize.Normalize(text)
			signals := n.Signals
			if signals == nil {
				signals = []string{}
			}
			return printJSON(cmd, fingerprintOutput{
				Normalized:   n.Text,
				Signals:      signals,
				Processable:  filter.ShouldProcess(n.Text),
				CanonicalKey: normalize.CanonicalKey(n.Signals, text),
				Intent:       normalize.ComputeIntentFingerprint(text, n.Signals),
			})
		},
	}
}
