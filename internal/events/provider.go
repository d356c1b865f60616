package events

import (
	"fmt"
	"strings"

	"github.com/ideate/ideate/internal/common/config"
	"github.com/ideate/ideate/internal/common/logger"
	"github.com/ideate/ideate/internal/events/bus"
)

// Provide selects the bus backend: NATS when a URL is configured, otherwise
// the in-process bus. The returned stop function drains the backend.
func Provide(cfg *config.Config, log *logger.Logger) (bus.EventBus, func(), error) {
	if strings.TrimSpace(cfg.NATS.URL) != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize NATS event bus: %w", err)
		}
		return natsBus, natsBus.Close, nil
	}

	memBus := bus.NewMemoryEventBus(log)
	return memBus, memBus.Close, nil
}
