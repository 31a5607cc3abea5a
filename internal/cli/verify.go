package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eudgc/verifier"
)

func newVerifyCommand() *cobra.Command {
	var country string

	cmd := &cobra.Command{
		Use:   "verify <payload>",
		Short: "Verify a QR-encoded health certificate payload",
		Args:  cobra.ExactArgs(1),
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
			verdict := pipeline.Verify(ctx, args[0])

			out := verifyOutput{Valid: verdict.Valid}
			if verdict.Meta != nil {
				out.Issuer = verdict.Meta.Issuer
				out.IssuedAt = verdict.Meta.IssuedAt
				out.ExpiresAt = verdict.Meta.ExpiresAt
			}
			if verdict.Certificate != nil {
				out.Certificate = verdict.Certificate
			}
			if verdict.Error != nil {
				out.Error = string(verdict.Error.Kind)
			}

			if verdict.Valid && verdict.Certificate != nil && verdict.Meta != nil {
				now := cfg.Clock.Now().Unix()
				out.Rules = pipeline.EvaluateRules(ctx, verdict.Certificate, now, verdict.Meta.IssuedAt, verdict.Meta.ExpiresAt, country)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("dgcverify: encode result: %w", err)
			}

			if !verdict.Valid {
				cmd.SilenceErrors = true
				return fmt.Errorf("certificate invalid: %s", out.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&country, "country", "", "country-of-test / issuer country to scope business rules by")
	return cmd
}

type verifyOutput struct {
	Valid       bool                    `json:"valid"`
	Issuer      string                  `json:"issuer,omitempty"`
	IssuedAt    int64                   `json:"issuedAt,omitempty"`
	ExpiresAt   int64                   `json:"expiresAt,omitempty"`
	Certificate *verifier.EuHealthCert  `json:"certificate,omitempty"`
	Rules       []verifier.RuleResult   `json:"rules,omitempty"`
	Error       string                  `json:"error,omitempty"`
}
