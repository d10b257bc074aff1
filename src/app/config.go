package app

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServiceName   string `envconfig:"APP_NAME" default:"marketrouter"`
	ExchangesFile string `envconfig:"EXCHANGES_FILE" default:"exchanges.yaml"`
	// BookMarkets lists the order books to stream as exchange:symbol pairs, with unified
	// symbols such as BTC/USDT or BTC/USDT:USDT.
	BookMarkets []string `envconfig:"BOOK_MARKETS" default:"binance:BTC/USDT,binance:ETH/USDT"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
