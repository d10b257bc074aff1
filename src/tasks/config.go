package tasks

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Concurrency caps how many exchanges one unit works on at the same time.
	Concurrency int `envconfig:"TASK_CONCURRENCY" default:"4"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
