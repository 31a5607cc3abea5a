package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/eudgc/verifier"
	"github.com/eudgc/verifier/storage"
	"github.com/eudgc/verifier/trust"
)

// buildPipeline is the production composition root: HTTP fetch, encrypted
// file storage, system clock, JSON-Logic rules engine (spec.md §9
// Polymorphism — "production defaults wire HTTP + disk + system keystore").
func buildPipeline(cfg *verifier.Config, logger logr.Logger) (*verifier.VerificationPipeline, error) {
	keyStore, err := storage.NewFileKeyStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("dgcverify: init keystore: %w", err)
	}
	fileStore, err := storage.NewFileStore(cfg.DataDir, keyStore)
	if err != nil {
		return nil, fmt.Errorf("dgcverify: init storage: %w", err)
	}

	fetcher := trust.NewCachingFetcher(trust.NewHTTPFetcher(&http.Client{Timeout: cfg.FetchTimeout}), 30*time.Second)
	clock := cfg.Clock
	if clock == nil {
		clock = verifier.SystemClock{}
	}

	trustStore, err := trust.NewTrustStore(cfg.TrustlistURL, cfg.TrustlistSignatureURL, cfg.TrustlistAnchor, fetcher, fileStore, clock, logger, cfg.MissingTrustListIsServiceError)
	if err != nil {
		return nil, fmt.Errorf("dgcverify: init trust store: %w", err)
	}
	rulesStore, err := trust.NewBusinessRulesStore(cfg.BusinessRulesURL, cfg.BusinessRulesSignatureURL, cfg.BusinessRulesAnchor, fetcher, fileStore, clock, logger)
	if err != nil {
		return nil, fmt.Errorf("dgcverify: init business-rules store: %w", err)
	}
	valueSetStore, err := trust.NewValueSetStore(cfg.ValueSetsURL, cfg.ValueSetsSignatureURL, cfg.ValueSetsAnchor, fetcher, fileStore, clock, logger)
	if err != nil {
		return nil, fmt.Errorf("dgcverify: init value-set store: %w", err)
	}

	return &verifier.VerificationPipeline{
		TrustStore:              trustStore,
		BusinessRulesStore:      rulesStore,
		ValueSetStore:           valueSetStore,
		RulesEngine:             verifier.JSONLogicEngine{},
		Clock:                   clock,
		Logger:                  logger,
		StrictIssuedAt:          cfg.StrictIssuedAt,
		AcceptLightCertificates: cfg.AcceptLightCertificates,
	}, nil
}
