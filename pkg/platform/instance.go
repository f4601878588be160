package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// InstanceInfo describes the remote instance build. Collected once per TTL
// window; deployments reuse the cached copy for diagnostics.
type InstanceInfo struct {
	// Host is the instance host the info was collected from.
	Host string `json:"host"`

	// BuildName is the platform release name (e.g. "Washington DC").
	BuildName string `json:"build_name,omitempty"`

	// BuildDate is the platform build date string.
	BuildDate string `json:"build_date,omitempty"`

	// BuildTag is the platform build tag.
	BuildTag string `json:"build_tag,omitempty"`

	// CollectedAt is when the info was collected.
	CollectedAt time.Time `json:"collected_at"`
}

// Prober collects and caches instance build metadata. A successful probe
// doubles as a connectivity and credential check before deployment starts.
type Prober struct {
	client Client
	ttl    time.Duration

	mu     sync.Mutex
	cached *InstanceInfo
}

// NewProber creates a prober with the given cache TTL. A non-positive TTL
// disables caching.
func NewProber(client Client, ttl time.Duration) *Prober {
	return &Prober{
		client: client,
		ttl:    ttl,
	}
}

// Probe returns instance build metadata, refreshing the cache when the TTL
// has elapsed.
func (p *Prober) Probe(ctx context.Context) (*InstanceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && p.ttl > 0 && time.Since(p.cached.CollectedAt) < p.ttl {
		return p.cached, nil
	}

	records, err := p.client.Query(ctx, "sys_properties",
		"nameINglide.buildname,glide.builddate,glide.buildtag", 10)
	if err != nil {
		return nil, fmt.Errorf("probe instance: %w", err)
	}

	info := &InstanceInfo{
		Host:        p.client.Host(),
		CollectedAt: time.Now(),
	}
	for _, r := range records {
		switch r.GetString("name") {
		case "glide.buildname":
			info.BuildName = r.GetString("value")
		case "glide.builddate":
			info.BuildDate = r.GetString("value")
		case "glide.buildtag":
			info.BuildTag = r.GetString("value")
		}
	}

	log.Debug().
		Str("host", info.Host).
		Str("build_name", info.BuildName).
		Msg("instance probe completed")

	p.cached = info
	return info, nil
}

// Invalidate drops the cached info so the next Probe queries the instance.
func (p *Prober) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = nil
}
