package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Trust   TrustConfig   `yaml:"trust"`
	Reviews ReviewsConfig `yaml:"reviews"`
	Graph   GraphConfig   `yaml:"graph"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Scan    ScanConfig    `yaml:"scan"`
	Hub     HubConfig     `yaml:"hub"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Sellers SellersConfig `yaml:"sellers"`
	Oracle  OracleConfig  `yaml:"oracle"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type TrustConfig struct {
	Weights TrustWeights `yaml:"weights"`
	// IntegrityPenalty is subtracted from 100 per failed/suspicious event.
	IntegrityPenalty float64 `yaml:"integrity_penalty"`
	// StaleTTL: scores older than this are flagged stale, never auto-zeroed.
	StaleTTL time.Duration `yaml:"stale_ttl"`
	// StaleSweepInterval drives the periodic staleness re-evaluation.
	StaleSweepInterval time.Duration `yaml:"stale_sweep_interval"`
}

type TrustWeights struct {
	Integrity float64 `yaml:"integrity"`
	Seller    float64 `yaml:"seller"`
	Tag       float64 `yaml:"tag"`
	Reviews   float64 `yaml:"reviews"`
}

type ReviewsConfig struct {
	// GenuineThreshold / SuspiciousThreshold bucket the oracle score.
	GenuineThreshold    float64 `yaml:"genuine_threshold"`
	SuspiciousThreshold float64 `yaml:"suspicious_threshold"`
	// TrailingWindow limits how many recent reviews feed the mean.
	TrailingWindow int `yaml:"trailing_window"`
}

type GraphConfig struct {
	GreyMarketPenalty   float64 `yaml:"grey_market_penalty"`
	DuplicateTagPenalty float64 `yaml:"duplicate_tag_penalty"`
}

type AlertsConfig struct {
	// GraphCriticalThreshold: anomaly score at or above this opens an alert.
	GraphCriticalThreshold float64 `yaml:"graph_critical_threshold"`
	// GraphSevereThreshold: anomaly at or above this is critical severity.
	GraphSevereThreshold float64 `yaml:"graph_severe_threshold"`
	// TrustAlertThreshold: composite below this opens a low-trust alert.
	TrustAlertThreshold float64 `yaml:"trust_alert_threshold"`
	// TrustCriticalThreshold: composite below this is critical severity.
	TrustCriticalThreshold float64       `yaml:"trust_critical_threshold"`
	RetryInterval          time.Duration `yaml:"retry_interval"`
}

type ScanConfig struct {
	// GenuineThreshold: composite at or above this scans as genuine.
	GenuineThreshold float64 `yaml:"genuine_threshold"`
	// SuspectThreshold: composite below this scans as suspect; scores
	// between the two read unverified.
	SuspectThreshold float64 `yaml:"suspect_threshold"`
}

type HubConfig struct {
	QueueSize    int    `yaml:"queue_size"`
	RedisChannel string `yaml:"redis_channel"`
}

type LedgerConfig struct {
	// LockTimeout bounds the wait for a product's write lock; expiry
	// surfaces as a Busy error instead of deadlocking the caller.
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

type SellersConfig struct {
	// StrikeWindow is the rolling window for auto-rejection.
	StrikeWindow time.Duration `yaml:"strike_window"`
	// StrikeLimit strikes within the window auto-reject the seller.
	StrikeLimit int `yaml:"strike_limit"`
	// ExpirySweepInterval drives the rolling-window strike expiry tick.
	ExpirySweepInterval time.Duration `yaml:"expiry_sweep_interval"`
}

type OracleConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the engine defaults. The numbers are policy knobs, not
// business rules; deployments override them via the YAML file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development"},
		Trust: TrustConfig{
			Weights: TrustWeights{
				Integrity: 0.35,
				Seller:    0.25,
				Tag:       0.15,
				Reviews:   0.25,
			},
			IntegrityPenalty:   20,
			StaleTTL:           2 * time.Minute,
			StaleSweepInterval: 30 * time.Second,
		},
		Reviews: ReviewsConfig{
			GenuineThreshold:    70,
			SuspiciousThreshold: 40,
			TrailingWindow:      50,
		},
		Graph: GraphConfig{
			GreyMarketPenalty:   40,
			DuplicateTagPenalty: 50,
		},
		Alerts: AlertsConfig{
			GraphCriticalThreshold: 70,
			GraphSevereThreshold:   90,
			TrustAlertThreshold:    70,
			TrustCriticalThreshold: 40,
			RetryInterval:          1 * time.Minute,
		},
		Scan: ScanConfig{
			GenuineThreshold: 70,
			SuspectThreshold: 40,
		},
		Hub: HubConfig{
			QueueSize:    256,
			RedisChannel: "verity:events",
		},
		Ledger: LedgerConfig{
			LockTimeout: 5 * time.Second,
		},
		Sellers: SellersConfig{
			StrikeWindow:        30 * 24 * time.Hour,
			StrikeLimit:         3,
			ExpirySweepInterval: 1 * time.Hour,
		},
		Oracle: OracleConfig{Timeout: 3 * time.Second},
	}
}

// Load reads a YAML config file over the defaults. A missing file is not an
// error; the defaults stand.
func Load(path string) (*Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
