// Package cli implements the dgcverify command tree: one file per verb,
// wired together by NewRootCommand, following the command layout
// scitt-golang's internal/cli package uses.
package cli

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var verbose bool

// NewRootCommand builds the dgcverify root command and its subcommands.
func NewRootCommand(version string) *cobra.Command {
	root := &cobra.Command{
		Use:          "dgcverify",
		Short:        "Verify EU Digital Green Certificate QR payloads",
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(newVerifyCommand())
	root.AddCommand(newTrustCommand())

	return root
}

// newLogger builds the zap-backed logr.Logger shared by every subcommand,
// following the teacher pack's zap+zapr logging stack (dc4eu-vc's
// pkg/logger).
func newLogger() (logr.Logger, func()) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	l, err := cfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "dgcverify: logger init failed:", err)
		l = zap.NewNop()
	}
	return zapr.NewLogger(l), func() { _ = l.Sync() }
}
