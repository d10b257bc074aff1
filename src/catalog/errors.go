package catalog

import "fmt"

// ConfigError is a configuration problem that stops the exchange's cycle until fixed.
type ConfigError struct {
	Exchange string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Exchange, e.Reason)
}
