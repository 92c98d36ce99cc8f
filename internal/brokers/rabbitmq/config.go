package rabbitmq

import (
	"fmt"
	"net/url"

	"li-gateway/internal/common/validation"
)

type Config struct {
	URL      string `json:"url" validate:"required,url"`
	PoolSize int    `json:"pool_size" validate:"min=1,max=100"`

	// DialAttempts bounds the retries for each initial connection.
	DialAttempts int `json:"dial_attempts" validate:"min=1,max=20"`
}

func (c *Config) Validate() error {
	if c.PoolSize <= 0 {
		c.PoolSize = 5
	}
	if c.DialAttempts <= 0 {
		c.DialAttempts = 3
	}

	return validation.ValidateStruct(c)
}

// GetConnectionString returns the broker address without credentials, for logs.
func (c *Config) GetConnectionString() string {
	if parsedURL, err := url.Parse(c.URL); err == nil && parsedURL.Host != "" {
		return fmt.Sprintf("rabbitmq://%s", parsedURL.Host)
	}
	return "rabbitmq://***"
}
