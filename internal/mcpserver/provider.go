package mcpserver

import (
	"context"
	"sync"
	"time"

	"github.com/ideate/ideate/internal/common/logger"
)

const stopTimeout = 5 * time.Second

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Port: 9190}
}

// Provide starts the MCP server and returns it along with an idempotent
// stop function.
func Provide(ctx context.Context, cfg Config, services Services, log *logger.Logger) (*Server, func() error, error) {
	srv := New(cfg, services, log)
	if err := srv.Start(ctx); err != nil {
		return nil, nil, err
	}

	var once sync.Once
	stop := func() error {
		var err error
		once.Do(func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			err = srv.Stop(stopCtx)
		})
		return err
	}
	return srv, stop, nil
}
