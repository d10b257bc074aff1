package trader

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Serve starts the status API next to the control loop.
	Serve bool `envconfig:"TRADER_SERVE" default:"true"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
