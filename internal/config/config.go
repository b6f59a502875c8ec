// Package config loads engine startup configuration from YAML via
// viper, the same config library dylanlott-orderbook and
// 0xtitan6-polymarket-mm use in the retrieval pack. Nothing outside
// this package touches the filesystem for settings.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"fenrir/internal/common"
)

type BusConfig struct {
	NatsURL       string `mapstructure:"nats_url"`
	InputSubject  string `mapstructure:"input_subject"`
	OutputSubject string `mapstructure:"output_subject"`
	DurableName   string `mapstructure:"durable_name"`
}

// MarketConfig is the per-market static configuration the risk engine
// and shard need to validate and clear orders. matching_mode follows
// the closed set in common.MatchingMode.
type MarketConfig struct {
	MarketId              common.MarketId `mapstructure:"market_id"`
	TickSize              uint64          `mapstructure:"tick_size"`
	LotSize               uint64          `mapstructure:"lot_size"`
	MakerFeeBps           int64           `mapstructure:"maker_fee_bps"`
	TakerFeeBps           int64           `mapstructure:"taker_fee_bps"`
	InitialMarginBps      uint64          `mapstructure:"initial_margin_bps"`
	MaintenanceMarginBps  uint64          `mapstructure:"maintenance_margin_bps"`
	MaxPosition           int64           `mapstructure:"max_position"`
	PriceBandBps          uint64          `mapstructure:"price_band_bps"`
	MaxOpenOrdersPerSubaccount int        `mapstructure:"max_open_orders_per_subaccount"`
	MatchingMode          common.MatchingMode `mapstructure:"-"`
	MatchingModeRaw       string          `mapstructure:"matching_mode"`
	BatchIntervalMs       uint64          `mapstructure:"batch_interval_ms"`
}

type PersistenceConfig struct {
	WalPath      string `mapstructure:"wal_path"`
	SnapshotPath string `mapstructure:"snapshot_path"`
}

type Settings struct {
	Bus                  BusConfig      `mapstructure:"bus"`
	ShardCount           int            `mapstructure:"shard_count"`
	Markets              []MarketConfig `mapstructure:"markets"`
	Persistence          PersistenceConfig `mapstructure:"persistence"`
	SnapshotIntervalSecs uint64         `mapstructure:"snapshot_interval_secs"`
	BookDeltaLevels      int            `mapstructure:"book_delta_levels"`
	MetricsAddr          string         `mapstructure:"metrics_addr"`
}

// Load reads and parses a YAML settings file at path.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	for i := range s.Markets {
		s.Markets[i].MatchingMode = common.ParseMatchingMode(s.Markets[i].MatchingModeRaw)
	}
	return &s, nil
}

// LoadStaticMarkets is a narrower accessor used by tooling that only
// needs the market list, not the full engine settings.
func LoadStaticMarkets(path string) ([]MarketConfig, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	return s.Markets, nil
}

// MarketById returns the configuration for id, if present.
func MarketById(markets []MarketConfig, id common.MarketId) (MarketConfig, bool) {
	for _, m := range markets {
		if m.MarketId == id {
			return m, true
		}
	}
	return MarketConfig{}, false
}
