package pricefeed

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BookDepth        int           `envconfig:"BOOK_DEPTH" default:"50"`
	ReconnectEvery   time.Duration `envconfig:"BOOK_RECONNECT_EVERY" default:"5s"`
	ReconnectBurst   int           `envconfig:"BOOK_RECONNECT_BURST" default:"1"`
	BookPollInterval time.Duration `envconfig:"BOOK_POLL_INTERVAL" default:"10s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
