package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Strategy holds the strategy parameters. The engine treats every field as
// pre-validated; bounds checking happens here, at load time.
type Strategy struct {
	TrainLookbackDays  int     `validate:"min=30"`
	PredHorizonDays    int     `validate:"min=1"`
	RebalanceFrequency string  `validate:"oneof=W M"`
	TopK               int     `validate:"min=1"`
	MinLongReturn      float64 `validate:"gte=0"`
	MaxShortReturn     float64 `validate:"lte=0"`
	MaxPositionPct     float64 `validate:"gt=0,lte=1"`
	GrossLeverage      float64 `validate:"gt=0"`
	BearLeverage       float64 `validate:"gt=0"`
	MinLeverage        float64 `validate:"gte=0"`
	TCostBps           float64 `validate:"gte=0"`
	MinPrice           float64 `validate:"gte=0"`
	MinDollarVol       float64 `validate:"gte=0"`
	VolTarget          float64 `validate:"gte=0"`
	VolWindow          int     `validate:"min=2"`
	MaxDrawdown        float64 `validate:"gte=0,lt=1"`
	DrawdownWindow     int     `validate:"min=2"`
	MissRebalanceProb  float64 `validate:"gte=0,lte=1"`
	RebalanceDelayDays int     `validate:"gte=0"`
	SimSeed            int64
	ShortingEnabled    bool
}

// Config holds application configuration
type Config struct {
	DataDir             string
	UniversePath        string
	BenchmarkSymbol     string `validate:"required"`
	LogLevel            string
	Port                int `validate:"min=1,max=65535"`
	DevMode             bool
	BacktestHistoryDays int `validate:"min=90"`
	Strategy            Strategy
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory with fallback logic
	dataDir := getEnv("DATA_DIR", "")
	if dataDir == "" {
		if _, err := os.Stat("./data"); err == nil {
			dataDir = "./data"
		} else if _, err := os.Stat("../data"); err == nil {
			dataDir = "../data"
		} else {
			dataDir = "./data"
		}
	}

	cfg := &Config{
		DataDir:             dataDir,
		UniversePath:        getEnv("UNIVERSE_PATH", dataDir+"/universe.csv"),
		BenchmarkSymbol:     getEnv("BENCHMARK_SYMBOL", "SPY"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		Port:                getEnvAsInt("PORT", 8090),
		DevMode:             getEnvAsBool("DEV_MODE", false),
		BacktestHistoryDays: getEnvAsInt("BACKTEST_HISTORY_DAYS", 730),
		Strategy: Strategy{
			TrainLookbackDays:  getEnvAsInt("TRAIN_LOOKBACK_DAYS", 252),
			PredHorizonDays:    getEnvAsInt("PRED_HORIZON_DAYS", 1),
			RebalanceFrequency: getEnv("REBALANCE_FREQUENCY", "W"),
			TopK:               getEnvAsInt("REBALANCE_TOP_K", 40),
			MinLongReturn:      getEnvAsFloat("MIN_LONG_RETURN", 0.001),
			MaxShortReturn:     getEnvAsFloat("MAX_SHORT_RETURN", -0.001),
			MaxPositionPct:     getEnvAsFloat("MAX_POSITION_PCT", 0.06),
			GrossLeverage:      getEnvAsFloat("GROSS_LEVERAGE", 1.5),
			BearLeverage:       getEnvAsFloat("BEAR_LEVERAGE", 0.6),
			MinLeverage:        getEnvAsFloat("MIN_LEVERAGE", 0.2),
			TCostBps:           getEnvAsFloat("TCOST_BPS", 5),
			MinPrice:           getEnvAsFloat("MIN_PRICE", 5),
			MinDollarVol:       getEnvAsFloat("MIN_DOLLAR_VOL", 5_000_000),
			VolTarget:          getEnvAsFloat("VOL_TARGET", 0.02),
			VolWindow:          getEnvAsInt("VOL_WINDOW", 20),
			MaxDrawdown:        getEnvAsFloat("MAX_DRAWDOWN", 0.10),
			DrawdownWindow:     getEnvAsInt("DRAWDOWN_WINDOW", 120),
			MissRebalanceProb:  getEnvAsFloat("MISS_REBALANCE_PROB", 0.0),
			RebalanceDelayDays: getEnvAsInt("REBALANCE_DELAY_DAYS", 0),
			SimSeed:            int64(getEnvAsInt("SIM_SEED", 42)),
			ShortingEnabled:    getEnvAsBool("SHORTING_ENABLED", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

var validate = validator.New()

// Validate checks configuration bounds. Everything downstream assumes a
// validated config.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := validate.Struct(c.Strategy); err != nil {
		return fmt.Errorf("invalid strategy parameters: %w", err)
	}
	if c.Strategy.BearLeverage > c.Strategy.GrossLeverage {
		return fmt.Errorf("invalid strategy parameters: bear leverage %.2f exceeds gross leverage %.2f",
			c.Strategy.BearLeverage, c.Strategy.GrossLeverage)
	}
	if c.Strategy.MinLeverage > c.Strategy.GrossLeverage {
		return fmt.Errorf("invalid strategy parameters: min leverage %.2f exceeds gross leverage %.2f",
			c.Strategy.MinLeverage, c.Strategy.GrossLeverage)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
