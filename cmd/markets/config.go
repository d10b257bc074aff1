package markets

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Hourly keeps the process running and refreshes at every top of the hour.
	Hourly bool `envconfig:"MARKETS_HOURLY" default:"false"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
