package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type Config struct {
	URI      string `split_words:"true" default:"neo4j://localhost:7687"`
	User     string `split_words:"true" default:"neo4j"`
	Password string `split_words:"true"`
	Database string `split_words:"true" default:"huelva"`
}

// New opens a driver and verifies connectivity before returning it.
func (c *Config) New(ctx context.Context) (neo4j.DriverWithContext, error) {
	if c.URI == "" {
		return nil, fmt.Errorf("neo4j uri is required")
	}
	driver, err := neo4j.NewDriverWithContext(c.URI, neo4j.BasicAuth(c.User, c.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return driver, nil
}

func (c *Config) MustNew(ctx context.Context) neo4j.DriverWithContext {
	driver, err := c.New(ctx)
	if err != nil {
		panic(err)
	}
	return driver
}
