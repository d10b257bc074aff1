package trade

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	OrderType    string        `envconfig:"ORDER_TYPE" default:"market"`
	OrderTimeout time.Duration `envconfig:"ORDER_TIMEOUT" default:"10m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
