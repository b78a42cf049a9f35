package webhook

import (
	"fmt"

	"github.com/mattjoyce/herd/internal/config"
	"github.com/mattjoyce/herd/internal/queue"
)

// FromConfig converts the loaded webhooks section. Every endpoint's job type
// must resolve through handlers.
func FromConfig(wc *config.WebhooksConfig, handlers HandlerLookup) (Config, error) {
	if wc == nil {
		return Config{}, fmt.Errorf("webhooks config is nil")
	}

	cfg := Config{
		Listen:    wc.Listen,
		Endpoints: make([]EndpointConfig, len(wc.Endpoints)),
	}
	for i, ep := range wc.Endpoints {
		if _, err := handlers.Lookup(ep.JobType); err != nil {
			return Config{}, fmt.Errorf("webhook endpoint %q: %w", ep.Path, err)
		}
		size, err := config.ParseByteSize(ep.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("webhook endpoint %q: %w", ep.Path, err)
		}

		bots := queue.AllWorkers()
		if len(ep.Bots) > 0 {
			bots = queue.Workers(ep.Bots...)
		}

		cfg.Endpoints[i] = EndpointConfig{
			Path:            ep.Path,
			JobType:         ep.JobType,
			Multi:           ep.Multi,
			Constraints:     ep.Constraints,
			Bots:            bots,
			Secret:          ep.Secret,
			SignatureHeader: ep.SignatureHeader,
			MaxBodySize:     size,
		}
	}
	return cfg, nil
}
