package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LoopPeriod time.Duration `envconfig:"LOOP_PERIOD" default:"1m"`
	// MaxReplans bounds the extra plan/execute rounds one cycle runs after fills.
	MaxReplans  int `envconfig:"MAX_REPLANS" default:"3"`
	MaxAccounts int `envconfig:"MAX_CONCURRENT_ACCOUNTS" default:"8"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
