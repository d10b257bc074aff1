package normalizer

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	QuoteCurrencies []string `envconfig:"QUOTE_CURRENCIES" default:"USDT,USDC,USD,BUSD,FDUSD,BTC,ETH"`
	Stablecoins     []string `envconfig:"STABLECOINS" default:"USDT,USDC,BUSD,FDUSD,DAI,TUSD,USD"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
