package main

import (
	"github.com/spf13/cobra"

	"nixo.app/triage/core/config"
	"nixo.app/triage/internal/grouping"
	"nixo.app/triage/internal/model"
)

type scoreOutput struct {
	Score     model.MatchScoreBreakdown `json:"score"`
	Threshold float64                   `json:"threshold"`
	Blocked   bool                      `json:"blocked"`
	GrayZone  bool                      `json:"gray_zone"`
	Matched   bool                      `json:"matched"`
}

func newScoreCmd() *cobra.Command {
	var (
		in            grouping.ScoreInput
		signals       []string
		ticketSignals []string
		tuningFile    string
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a message against a recent ticket in the same channel",
		Long: `Computes the weighted match score, the semantic guardrail and the gray-zone verdict
for a message/ticket pair. --signals and --ticket-signals compute the signal overlap;
--overlap sets it directly. --tuning overlays a YAML tuning file onto the defaults.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultGrouping()
			if tuningFile != "" {
				tuned, err := config.LoadTuning(tuningFile, cfg)
				if err != nil {
					return err
				}
				cfg = tuned
			}

			if !cmd.Flags().Changed("overlap") {
				in.SignalOverlap = grouping.SignalOverlap(signals, ticketSignals)
			}

			score := grouping.Score(in, cfg)
			blocked := grouping.Blocked(in, cfg)
			matched := !blocked && score.Total >= cfg.ScoreThreshold
			return printJSON(cmd, scoreOutput{
				Score:     score,
				Threshold: cfg.ScoreThreshold,
				Blocked:   blocked,
				GrayZone:  !blocked && !matched && grouping.InGrayZone(score.Total, in.Distance, cfg),
				Matched:   matched,
			})
		},
	}

	f := cmd.Flags()
	f.Float64Var(&in.Distance, "distance", 0, "cosine distance between message and ticket embeddings")
	f.BoolVar(&in.SameCategory, "same-category", false, "message and ticket share a category")
	f.BoolVar(&in.SameChannel, "same-channel", false, "message and ticket share a channel")
	f.Float64Var(&in.MinutesSinceUpdate, "minutes", 0, "minutes since the ticket was last updated")
	f.IntVar(&in.SignalOverlap, "overlap", 0, "number of overlapping signals")
	f.StringSliceVar(&signals, "signals", nil, "message signals")
	f.StringSliceVar(&ticketSignals, "ticket-signals", nil, "signals of the ticket's recent messages")
	f.StringVar(&tuningFile, "tuning", "", "YAML tuning file")
	return cmd
}
