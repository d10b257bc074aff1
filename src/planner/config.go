package planner

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// FundingPeriods is how many funding payments a route is expected to hold a perpetual for.
	FundingPeriods int     `envconfig:"FUNDING_PERIODS" default:"3"`
	MinRouteValue  float64 `envconfig:"MIN_ROUTE_VALUE" default:"10"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
