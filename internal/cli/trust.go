package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eudgc/verifier"
)

func newTrustCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Inspect and refresh the trust list, business rules, and value sets",
	}

	cmd.AddCommand(newTrustRefreshCommand())
	cmd.AddCommand(newTrustShowCommand())
	return cmd
}

func newTrustRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force an immediate refresh of all three signed bundles",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, flush := newLogger()
			defer flush()

			cfg, err := verifier.LoadConfig("DGC")
			if err != nil {
				return err
			}
			cfg.Logger = logger

			pipeline, err := buildPipeline(cfg, logger)
			if err != nil {
				return err
			}

			ctx := context.Background()
			if err := pipeline.TrustStore.Refresh(ctx); err != nil {
				return fmt.Errorf("dgcverify: refresh trust list: %w", err)
			}
			if err := pipeline.BusinessRulesStore.Refresh(ctx); err != nil {
				return fmt.Errorf("dgcverify: refresh business rules: %w", err)
			}
			if err := pipeline.ValueSetStore.Refresh(ctx); err != nil {
				return fmt.Errorf("dgcverify: refresh value sets: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "trust list, business rules, and value sets refreshed")
			return nil
		},
	}
}

func newTrustShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the currently cached business rules and value sets",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, flush := newLogger()
			defer flush()

			cfg, err := verifier.LoadConfig("DGC")
			if err != nil {
				return err
			}
			cfg.Logger = logger

			pipeline, err := buildPipeline(cfg, logger)
			if err != nil {
				return err
			}

			ctx := context.Background()
			rules, rulesOK := pipeline.BusinessRulesStore.Rules(ctx)
			valueSets, valueSetsOK := pipeline.ValueSetStore.ValueSets(ctx)

			out := struct {
				RulesLoaded     bool           `json:"rulesLoaded"`
				RuleCount       int            `json:"ruleCount"`
				ValueSetsLoaded bool           `json:"valueSetsLoaded"`
				ValueSetNames   []string       `json:"valueSetNames"`
			}{
				RulesLoaded:     rulesOK,
				RuleCount:       len(rules),
				ValueSetsLoaded: valueSetsOK,
			}
			for name := range valueSets {
				out.ValueSetNames = append(out.ValueSetNames, name)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
