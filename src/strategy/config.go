package strategy

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AllocationSource string `envconfig:"ALLOCATION_SOURCE" default:"yaml"`
	AllocationsFile  string `envconfig:"ALLOCATIONS_FILE" default:"allocations.yaml"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
