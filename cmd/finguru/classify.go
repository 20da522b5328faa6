package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/finguru/finguru-service/internal/ai"
	"github.com/finguru/finguru-service/internal/policy"
	"github.com/finguru/finguru-service/internal/reasoning"
)

func (c *cli) classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify [text]",
		Short: "Classify an expense description",
		Long: `Classify an expense description and print the result as JSON.

The text is taken from the arguments, or from stdin when none are given.
Without --primary the deterministic keyword path is used, so the output
depends only on the text and the policy.

Examples:
  finguru classify "paid 300 rupees for taxi"
  finguru classify --source receipt --amount 1180 < receipt.txt
  finguru classify --primary --provider gemini "printer toner rs 2400"`,
		RunE: c.runClassify,
	}

	cmd.Flags().String("source", string(reasoning.SourceVoice), "text source (voice, receipt)")
	cmd.Flags().Float64("amount", 0, "amount already read from the document (0 = extract from text)")
	cmd.Flags().Float64("source-confidence", 0, "extraction confidence of the text in [0,1] (0 = unknown)")
	cmd.Flags().Bool("primary", false, "try the model-backed reasoner before the keyword path")
	cmd.Flags().String("provider", "", "AI provider for --primary (openai, gemini, ollama)")
	cmd.Flags().String("model", "", "model for --primary")
	cmd.Flags().Duration("timeout", reasoning.DefaultTimeout, "bound on the model-backed attempt")

	_ = c.v.BindPFlag("classify.source", cmd.Flags().Lookup("source"))
	_ = c.v.BindPFlag("classify.amount", cmd.Flags().Lookup("amount"))
	_ = c.v.BindPFlag("classify.source_confidence", cmd.Flags().Lookup("source-confidence"))
	_ = c.v.BindPFlag("reasoning.enabled", cmd.Flags().Lookup("primary"))
	_ = c.v.BindPFlag("reasoning.provider", cmd.Flags().Lookup("provider"))
	_ = c.v.BindPFlag("reasoning.model", cmd.Flags().Lookup("model"))
	_ = c.v.BindPFlag("reasoning.timeout", cmd.Flags().Lookup("timeout"))

	return cmd
}

func (c *cli) runClassify(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	if text == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(data)
	}

	p, err := c.loadPolicy()
	if err != nil {
		return err
	}

	engineConfig := reasoning.EngineConfig{
		Timeout: c.v.GetDuration("reasoning.timeout"),
		Logger:  c.logger,
	}
	if c.v.GetBool("reasoning.enabled") {
		aiCfg := c.aiConfig()
		name := c.v.GetString("reasoning.provider")
		if name == "" {
			name = aiCfg.DefaultProvider
		}
		provider, err := ai.NewProvider(aiCfg, name, c.v.GetString("reasoning.model"))
		if err != nil {
			return err
		}
		engineConfig.Primary = reasoning.NewPrimaryReasoner(provider, 0, c.logger)
	}

	engine, err := reasoning.NewEngine(p, engineConfig)
	if err != nil {
		return err
	}

	req := reasoning.Request{
		Source:           reasoning.Source(c.v.GetString("classify.source")),
		Text:             text,
		SourceConfidence: c.v.GetFloat64("classify.source_confidence"),
	}
	if amount := c.v.GetFloat64("classify.amount"); amount > 0 {
		req.HintAmount = &amount
	}

	res, err := engine.Classify(cmd.Context(), req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func (c *cli) loadPolicy() (*policy.Policy, error) {
	if path := c.v.GetString("policy.path"); path != "" {
		return policy.Load(path)
	}
	return policy.Builtin()
}
