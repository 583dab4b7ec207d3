// Package config loads and validates the dispatcher configuration.
//
// Configuration is read once at startup from a YAML file with environment
// variable overrides and is never re-read mid-run. Every policy knob that has
// historically drifted between revisions (shipping-method priorities, blocked
// location substrings, the shoe classification offset) lives here instead of
// in code.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServiceConfig holds the connection settings for one downstream service.
type ServiceConfig struct {
	URL          string `mapstructure:"url"`
	APIKey       string `mapstructure:"api_key"`
	APIKeyHeader string `mapstructure:"api_key_header"`
}

// ExportConfig holds the order export endpoints.
type ExportConfig struct {
	// TriggerURL receives the export-creation request with an `after`
	// epoch-seconds query parameter.
	TriggerURL string `mapstructure:"trigger_url"`

	// DownloadURL serves the generated CSV. Fetched with a cache-busting
	// query parameter, no caching contract.
	DownloadURL string `mapstructure:"download_url"`
}

// ShoeRule classifies items by a substring of the serialized id. The offset
// has moved between export revisions (1 vs 2), so it is configuration, not
// code.
type ShoeRule struct {
	Offset        int    `mapstructure:"offset"`
	Width         int    `mapstructure:"width"`
	NonShoePrefix string `mapstructure:"non_shoe_prefix"`
}

// DispatchConfig holds dispatch-policy settings.
type DispatchConfig struct {
	// MaxPerRun caps runner request creations per warehouse per run.
	MaxPerRun int `mapstructure:"max_per_run"`

	// PageSize bounds the ids carried by one location lookup call.
	PageSize int `mapstructure:"page_size"`

	// BlockedLocations lists location-code substrings that make a record
	// ineligible (staging areas, sales floor, sold, ...).
	BlockedLocations []string `mapstructure:"blocked_locations"`

	// Priorities maps shipping-method strings to priority classes.
	// Unmapped methods fall back to DefaultPriority.
	Priorities      map[string]int `mapstructure:"priorities"`
	DefaultPriority int            `mapstructure:"default_priority"`

	ShoeRule ShoeRule `mapstructure:"shoe_rule"`

	// ShoesFirst orders shoes before non-shoes within a priority class.
	ShoesFirst bool `mapstructure:"shoes_first"`

	// DropNonShoes removes non-shoe records at import time instead of
	// sorting them last (historical import behavior).
	DropNonShoes bool `mapstructure:"drop_non_shoes"`

	// VerifyInventory checks each record against the inventory service
	// before dispatch and skips sold or hidden items.
	VerifyInventory bool `mapstructure:"verify_inventory"`

	SalesPerson string `mapstructure:"sales_person"`
	RequestType string `mapstructure:"request_type"`
}

// WarehouseConfig maps serialized-id region prefixes to warehouses and
// warehouses to runner destination ids.
type WarehouseConfig struct {
	// Regions maps the first character of a serialized id to a warehouse
	// code. Prefixes not listed resolve to DefaultWarehouse.
	Regions map[string]string `mapstructure:"regions"`

	DefaultWarehouse string `mapstructure:"default_warehouse"`

	// Destinations maps a warehouse code to the runner service
	// destination id used in creation requests.
	Destinations map[string]int `mapstructure:"destinations"`
}

// ScheduleConfig drives the recurring run trigger.
type ScheduleConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	RunTimeout time.Duration `mapstructure:"run_timeout"`

	// DaysBack sets the export window: orders created within the last
	// DaysBack days are requested.
	DaysBack int `mapstructure:"days_back"`
}

// RedisConfig enables the cross-replica run lock when Addr is set.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	DB   int    `mapstructure:"db"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Config is the full dispatcher configuration.
type Config struct {
	Export    ExportConfig    `mapstructure:"export"`
	Location  ServiceConfig   `mapstructure:"location"`
	Runner    ServiceConfig   `mapstructure:"runner"`
	Inventory ServiceConfig   `mapstructure:"inventory"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Warehouse WarehouseConfig `mapstructure:"warehouse"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`

	// ListenAddr serves /health and /metrics.
	ListenAddr string `mapstructure:"listen_addr"`
}

// Default returns the configuration matching the historical importer
// settings.
func Default() Config {
	return Config{
		Location:  ServiceConfig{APIKeyHeader: "api_key"},
		Runner:    ServiceConfig{APIKeyHeader: "api_key"},
		Inventory: ServiceConfig{APIKeyHeader: "X-Beluga-Api-Key"},
		Dispatch: DispatchConfig{
			MaxPerRun: 300,
			PageSize:  300,
			BlockedLocations: []string{
				"STAGE", "STAGING", "SALESFLOOR",
				"CONSIGNMENT", "MISSING", "SOLD",
			},
			Priorities: map[string]int{
				"matrixrate_priority_overnight": 0,
				"matrixrate_express_saver":      1,
			},
			DefaultPriority: 2,
			ShoeRule:        ShoeRule{Offset: 1, Width: 6, NonShoePrefix: "7"},
			ShoesFirst:      true,
			SalesPerson:     "Magento",
			RequestType:     "WEB",
		},
		Warehouse: WarehouseConfig{
			Regions:          map[string]string{"N": "NY"},
			DefaultWarehouse: "LA",
		},
		Schedule: ScheduleConfig{
			Interval:   30 * time.Minute,
			RunTimeout: 15 * time.Minute,
			DaysBack:   30,
		},
		Log:        LogConfig{Level: "info"},
		ListenAddr: ":8080",
	}
}

// Load reads the configuration file at path, applies environment overrides
// and defaults, and validates the result. An empty path searches the current
// directory and /etc/runner-dispatch for dispatcher.yml.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dispatcher")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/runner-dispatch")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No file is fine, defaults plus env cover dev setups.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("location.api_key_header", d.Location.APIKeyHeader)
	v.SetDefault("runner.api_key_header", d.Runner.APIKeyHeader)
	v.SetDefault("inventory.api_key_header", d.Inventory.APIKeyHeader)
	v.SetDefault("dispatch.max_per_run", d.Dispatch.MaxPerRun)
	v.SetDefault("dispatch.page_size", d.Dispatch.PageSize)
	v.SetDefault("dispatch.blocked_locations", d.Dispatch.BlockedLocations)
	v.SetDefault("dispatch.priorities", d.Dispatch.Priorities)
	v.SetDefault("dispatch.default_priority", d.Dispatch.DefaultPriority)
	v.SetDefault("dispatch.shoe_rule.offset", d.Dispatch.ShoeRule.Offset)
	v.SetDefault("dispatch.shoe_rule.width", d.Dispatch.ShoeRule.Width)
	v.SetDefault("dispatch.shoe_rule.non_shoe_prefix", d.Dispatch.ShoeRule.NonShoePrefix)
	v.SetDefault("dispatch.shoes_first", d.Dispatch.ShoesFirst)
	v.SetDefault("dispatch.sales_person", d.Dispatch.SalesPerson)
	v.SetDefault("dispatch.request_type", d.Dispatch.RequestType)
	v.SetDefault("warehouse.regions", d.Warehouse.Regions)
	v.SetDefault("warehouse.default_warehouse", d.Warehouse.DefaultWarehouse)
	v.SetDefault("schedule.interval", d.Schedule.Interval)
	v.SetDefault("schedule.run_timeout", d.Schedule.RunTimeout)
	v.SetDefault("schedule.days_back", d.Schedule.DaysBack)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("listen_addr", d.ListenAddr)
}

// Validate checks the configuration for startup errors.
func (c *Config) Validate() error {
	if c.Export.TriggerURL == "" {
		return fmt.Errorf("export.trigger_url is required")
	}
	if c.Export.DownloadURL == "" {
		return fmt.Errorf("export.download_url is required")
	}
	if c.Location.URL == "" {
		return fmt.Errorf("location.url is required")
	}
	if c.Runner.URL == "" {
		return fmt.Errorf("runner.url is required")
	}
	if c.Dispatch.VerifyInventory && c.Inventory.URL == "" {
		return fmt.Errorf("inventory.url is required when dispatch.verify_inventory is set")
	}
	if c.Dispatch.MaxPerRun <= 0 {
		return fmt.Errorf("dispatch.max_per_run must be > 0 (got %d)", c.Dispatch.MaxPerRun)
	}
	if c.Dispatch.PageSize <= 0 {
		return fmt.Errorf("dispatch.page_size must be > 0 (got %d)", c.Dispatch.PageSize)
	}
	if c.Dispatch.ShoeRule.Offset < 1 {
		return fmt.Errorf("dispatch.shoe_rule.offset must be >= 1 (got %d)", c.Dispatch.ShoeRule.Offset)
	}
	if c.Dispatch.ShoeRule.Width <= 0 {
		return fmt.Errorf("dispatch.shoe_rule.width must be > 0 (got %d)", c.Dispatch.ShoeRule.Width)
	}
	if c.Schedule.Interval <= 0 {
		return fmt.Errorf("schedule.interval must be > 0")
	}
	if c.Schedule.DaysBack <= 0 {
		return fmt.Errorf("schedule.days_back must be > 0 (got %d)", c.Schedule.DaysBack)
	}
	if len(c.Warehouse.Destinations) == 0 {
		return fmt.Errorf("warehouse.destinations must not be empty")
	}
	for prefix, wh := range c.Warehouse.Regions {
		if len(prefix) != 1 {
			return fmt.Errorf("warehouse.regions: prefix %q must be a single character", prefix)
		}
		if _, ok := c.Warehouse.Destinations[wh]; !ok {
			return fmt.Errorf("warehouse.regions: warehouse %q has no destination id", wh)
		}
	}
	if _, ok := c.Warehouse.Destinations[c.Warehouse.DefaultWarehouse]; !ok {
		return fmt.Errorf("warehouse.default_warehouse %q has no destination id", c.Warehouse.DefaultWarehouse)
	}
	return nil
}
