package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/finguru/finguru-service/internal/policy"
)

func (c *cli) policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and validate accounting policy documents",
	}

	validate := &cobra.Command{
		Use:   "validate [path]",
		Short: "Check a policy document and report every problem",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				c.v.Set("policy.path", args[0])
			}
			p, err := c.loadPolicy()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "policy %s OK: %d categories, %d amount patterns, confirmation below %.2f or above %.2f %s\n",
				p.Version, len(p.Categories), len(p.AmountPatterns),
				p.ConfirmationThreshold, p.MaxAmountWithoutConfirmation, p.Currency)
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective policy",
		Long: `Print the effective policy. Without --policy this is the built-in document,
which is a good starting point for a custom one:

  finguru policy show > accounting.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format := c.v.GetString("policy.format")
			if c.v.GetString("policy.path") == "" && format == "yaml" {
				_, err := cmd.OutOrStdout().Write(policy.BuiltinDocument())
				return err
			}
			p, err := c.loadPolicy()
			if err != nil {
				return err
			}
			switch format {
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(p)
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(p)
			default:
				return fmt.Errorf("unknown format %q (yaml, json)", format)
			}
		},
	}
	show.Flags().String("format", "yaml", "output format (yaml, json)")
	_ = c.v.BindPFlag("policy.format", show.Flags().Lookup("format"))

	cmd.AddCommand(validate, show)
	return cmd
}
