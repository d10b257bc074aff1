package portfolio

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	DefaultReference string  `envconfig:"DEFAULT_REFERENCE_CURRENCY" default:"USDT"`
	MinDeltaValue    float64 `envconfig:"MIN_DELTA_VALUE" default:"10"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

func (c Config) minDelta() decimal.Decimal {
	return decimal.NewFromFloat(c.MinDeltaValue)
}
