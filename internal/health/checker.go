package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// PingFunc reports whether a dependency is reachable.
type PingFunc func(ctx context.Context) error

// Probe is one dependency to check. A failing critical probe makes the
// whole service unhealthy; any other failure only degrades it.
type Probe struct {
	Name     string
	Type     string // backend, database
	Critical bool
	Ping     PingFunc
	// SlowAfter marks a successful check as degraded when it takes longer.
	SlowAfter time.Duration
}

// CheckResult holds the result of a health check.
type CheckResult struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Component is the outcome of one probe.
type Component struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Critical bool   `json:"critical"`
	CheckResult
}

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

// Checker runs probes concurrently.
type Checker struct {
	probes  []Probe
	timeout time.Duration

	mu   sync.RWMutex
	last []Component
}

// Config holds health checker configuration.
type Config struct {
	Probes []Probe
	// Timeout bounds each probe (default 2s).
	Timeout time.Duration
}

// New creates a new health checker. Probes without a Ping func are ignored.
func New(cfg Config) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	probes := make([]Probe, 0, len(cfg.Probes))
	for _, p := range cfg.Probes {
		if p.Ping != nil {
			probes = append(probes, p)
		}
	}
	return &Checker{probes: probes, timeout: cfg.Timeout}
}

// Check performs all health checks and returns overall status.
func (c *Checker) Check(ctx context.Context) HealthStatus {
	var wg sync.WaitGroup
	results := make([]Component, len(c.probes))
	for i, p := range c.probes {
		wg.Add(1)
		go func(i int, p Probe) {
			defer wg.Done()
			results[i] = c.run(ctx, p)
		}(i, p)
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	c.mu.Lock()
	c.last = results
	c.mu.Unlock()

	return overall(results)
}

func (c *Checker) run(ctx context.Context, p Probe) Component {
	comp := Component{
		Name:        p.Name,
		Type:        p.Type,
		Critical:    p.Critical,
		CheckResult: CheckResult{Timestamp: time.Now().UTC()},
	}

	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(pctx)
	latency := time.Since(start)
	comp.LatencyMS = latency.Milliseconds()

	switch {
	case err != nil:
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "unreachable"
	case p.SlowAfter > 0 && latency > p.SlowAfter:
		comp.Status = StatusDegraded
		comp.Message = "slow: " + latency.String()
	default:
		comp.Status = StatusHealthy
		comp.Message = "reachable"
	}
	return comp
}

func overall(components []Component) HealthStatus {
	status := StatusHealthy
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			if comp.Critical {
				status = StatusUnhealthy
			} else if status == StatusHealthy {
				status = StatusDegraded
			}
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Components: components,
	}
}

// LastStatus returns the most recent check without probing again.
func (c *Checker) LastStatus() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return HealthStatus{Status: StatusHealthy, Timestamp: time.Now().UTC()}
	}
	return overall(c.last)
}
