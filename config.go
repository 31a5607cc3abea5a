package verifier

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-logr/logr"
	"github.com/kelseyhightower/envconfig"
)

// Config is the construction-time option set of spec.md §6. Every field is
// optional and defaulted; unspecified fields take the documented defaults
// via github.com/creasty/defaults (for duration-typed and nested fields
// envconfig's own `default` tag handles less naturally), then may be
// overridden from the environment via github.com/kelseyhightower/envconfig,
// the same two-library combination vc/pkg/configuration uses around its
// own config struct.
type Config struct {
	TrustlistURL          string `envconfig:"DGC_TRUSTLIST_URL" default:"https://distribution.dcc-rules.example/trustlist"`
	TrustlistSignatureURL string `envconfig:"DGC_TRUSTLIST_SIGNATURE_URL" default:"https://distribution.dcc-rules.example/trustlist.sig"`
	TrustlistAnchor       string `envconfig:"DGC_TRUSTLIST_ANCHOR"`

	BusinessRulesURL          string `envconfig:"DGC_BUSINESS_RULES_URL" default:"https://distribution.dcc-rules.example/rules"`
	BusinessRulesSignatureURL string `envconfig:"DGC_BUSINESS_RULES_SIGNATURE_URL" default:"https://distribution.dcc-rules.example/rules.sig"`
	BusinessRulesAnchor       string `envconfig:"DGC_BUSINESS_RULES_ANCHOR"`

	ValueSetsURL          string `envconfig:"DGC_VALUESETS_URL" default:"https://distribution.dcc-rules.example/valuesets"`
	ValueSetsSignatureURL string `envconfig:"DGC_VALUESETS_SIGNATURE_URL" default:"https://distribution.dcc-rules.example/valuesets.sig"`
	ValueSetsAnchor       string `envconfig:"DGC_VALUESETS_ANCHOR"`

	// DataDir is the application data directory the three stores persist
	// their encrypted caches under (spec.md §6 Persistence).
	DataDir string `envconfig:"DGC_DATA_DIR" default:"./.dgc-cache"`

	// FetchTimeout bounds a single trust/rules/valueset refresh HTTP GET.
	FetchTimeout time.Duration `envconfig:"DGC_FETCH_TIMEOUT" default:"10s"`

	// StrictIssuedAt gates CWT.IsValid on now >= issuedAt in addition to
	// now <= expiresAt. spec.md §9's first Open Question leaves this
	// ambiguous in the source; exposed here as the recommended
	// configurable strictness flag rather than guessed silently.
	StrictIssuedAt bool `envconfig:"DGC_STRICT_ISSUED_AT" default:"false"`

	// MissingTrustListIsServiceError controls spec.md §9's third Open
	// Question: whether a lookup against an empty/never-loaded trust list
	// reports KEY_NOT_IN_TRUST_LIST (source behavior, default here) or
	// TRUST_SERVICE_ERROR (operator-tightened policy).
	MissingTrustListIsServiceError bool `envconfig:"DGC_STRICT_EMPTY_TRUSTLIST" default:"false"`

	// AcceptLightCertificates enables the LT1: prefix and -250 claims key
	// supplemented from coronaqr.go (see SPEC_FULL.md §3); off by default
	// so the bare spec's HC1:-only invariant is the out-of-the-box
	// contract.
	AcceptLightCertificates bool `envconfig:"DGC_ACCEPT_LIGHT_CERTS" default:"false"`

	Logger logr.Logger `ignored:"true"`
	Clock  Clock        `ignored:"true"`
}

// LoadConfig applies struct-tag defaults, then overlays any matching
// environment variables under prefix (conventionally "DGC"; envconfig
// itself ignores prefix when the envconfig tag is set explicitly, as all
// tags above are). Logger and Clock are never populated from the
// environment: callers set them on the returned Config, falling back to
// logr.Discard() and SystemClock{} respectively if left zero.
func LoadConfig(prefix string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("verifier: apply config defaults: %w", err)
	}
	if err := envconfig.Process(prefix, cfg); err != nil {
		return nil, fmt.Errorf("verifier: load config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.Logger.GetSink() == nil {
		c.Logger = logr.Discard()
	}
}
