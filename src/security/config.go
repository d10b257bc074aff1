package security

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the key sealing stored exchange credentials. There is no default: a
// deployment without EXCHANGE_CREDENTIALS_KEY cannot read or store keys.
type Config struct {
	CredentialsKey string `envconfig:"EXCHANGE_CREDENTIALS_KEY"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
