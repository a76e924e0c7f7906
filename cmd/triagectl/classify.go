package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nixo.app/triage/common/llm"
	"nixo.app/triage/common/logger"
	"nixo.app/triage/core/config"
	"nixo.app/triage/internal/classify"
	"nixo.app/triage/internal/normalize"
)

func newClassifyCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "classify [text]",
		Short: "Classify a message once with the configured model",
		Long: `Sends the message to the configured LLM provider exactly as the worker would and
prints the validated classification. With --offline the fallback classification is
printed instead and no provider is contacted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if offline {
				return printJSON(cmd, classify.Fallback(text))
			}

			cfg, err := config.Load(config.ServiceTypeCLI)
			if err != nil {
				return err
			}
			if !cfg.LLM.Enabled() {
				return fmt.Errorf("LLM_API_KEY is required and LLM_PROVIDER must be openai or gemini")
			}
			logger.Setup(cfg)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			client, err := llm.NewClient(ctx, llm.Config{
				Provider: cfg.LLM.Provider,
				APIKey:   cfg.LLM.APIKey,
				BaseURL:  cfg.LLM.BaseURL,
				Model:    cfg.LLM.Model,
				Timeout:  cfg.LLM.Timeout,
			})
			if err != nil {
				return fmt.Errorf("creating llm client: %w", err)
			}

			n := normalize.Normalize(text)
			return printJSON(cmd, classify.New(client, nil).Classify(ctx, text, n.Text))
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "print the fallback classification without calling the model")
	return cmd
}
