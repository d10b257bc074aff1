package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BinanceSpotURL    string        `envconfig:"BINANCE_SPOT_URL" default:"https://api.binance.com"`
	BinanceFuturesURL string        `envconfig:"BINANCE_FUTURES_URL" default:"https://fapi.binance.com"`
	BinanceTestnet    bool          `envconfig:"BINANCE_TESTNET" default:"false"`
	KrakenFuturesURL  string        `envconfig:"KRAKEN_FUTURES_URL" default:"https://futures.kraken.com/derivatives"`
	KrakenChartsURL   string        `envconfig:"KRAKEN_CHARTS_URL" default:"https://futures.kraken.com/api/charts/v1"`
	KrakenWSURL       string        `envconfig:"KRAKEN_FUTURES_WS_URL" default:"wss://futures.kraken.com/ws/v1"`
	HTTPTimeout       time.Duration `envconfig:"EXCHANGE_HTTP_TIMEOUT" default:"30s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
