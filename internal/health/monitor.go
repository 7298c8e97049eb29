package health

import (
	"context"
	"sync"
	"time"

	"fieldsync/internal/domain"
	"fieldsync/internal/logging"
	"fieldsync/internal/metrics"
	"fieldsync/internal/models"

	"github.com/rs/zerolog"
)

// Snapshot is the latest reachability view of the downstream services.
type Snapshot struct {
	Directus  bool      `json:"directus"`
	EAS       bool      `json:"eas"`
	CheckedAt time.Time `json:"checkedAt"`
}

func (s Snapshot) AllHealthy() bool { return s.Directus && s.EAS }

// Monitor periodically probes the downstream services. Until the first probe
// completes every service is reported down.
type Monitor struct {
	directus domain.Pinger
	eas      domain.Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *zerolog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	snapshot Snapshot
}

var _ domain.HealthSnapshot = (*Monitor)(nil)

func NewMonitor(directus, eas domain.Pinger, interval, timeout time.Duration, logger *zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = models.DefaultHealthInterval
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{
		directus: directus,
		eas:      eas,
		interval: interval,
		timeout:  timeout,
		logger:   logging.Component(logger, "health"),
		now:      time.Now,
	}
}

// Start probes immediately and then every interval until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one probe round and returns the resulting snapshot. A panic in
// either probe marks every service down.
func (m *Monitor) Check(ctx context.Context) Snapshot {
	var wg sync.WaitGroup
	var directus, eas probeResult
	wg.Add(2)
	go func() {
		defer wg.Done()
		directus = m.probe(ctx, models.ServiceDirectus, m.directus)
	}()
	go func() {
		defer wg.Done()
		eas = m.probe(ctx, models.ServiceEAS, m.eas)
	}()
	wg.Wait()

	snap := Snapshot{Directus: directus.ok, EAS: eas.ok, CheckedAt: m.now()}
	if directus.panicked || eas.panicked {
		m.logger.Error().Msg("health probe panicked, marking all services down")
		snap.Directus, snap.EAS = false, false
	}
	m.store(snap)
	return snap
}

type probeResult struct {
	ok       bool
	panicked bool
}

func (m *Monitor) probe(ctx context.Context, service models.Service, p domain.Pinger) (res probeResult) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Str("service", string(service)).Msg("probe panicked")
			res = probeResult{panicked: true}
		}
	}()
	if p == nil {
		return probeResult{}
	}
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := p.Ping(pctx); err != nil {
		m.logger.Warn().Err(err).Str("service", string(service)).Msg("service unreachable")
		return probeResult{}
	}
	return probeResult{ok: true}
}

func (m *Monitor) store(s Snapshot) {
	m.mu.Lock()
	m.snapshot = s
	m.mu.Unlock()
	metrics.SetServiceHealth(string(models.ServiceDirectus), s.Directus)
	metrics.SetServiceHealth(string(models.ServiceEAS), s.EAS)
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Healthy reports the last known state of service. Linking runs against Directus.
func (m *Monitor) Healthy(service models.Service) bool {
	s := m.Snapshot()
	switch service {
	case models.ServiceDirectus, models.ServiceLinking:
		return s.Directus
	case models.ServiceEAS:
		return s.EAS
	default:
		return false
	}
}

func (m *Monitor) AllHealthy() bool {
	return m.Snapshot().AllHealthy()
}

// MarkHealthy records an observed successful call without waiting for the next probe.
func (m *Monitor) MarkHealthy(service models.Service) {
	m.mu.Lock()
	switch service {
	case models.ServiceDirectus, models.ServiceLinking:
		m.snapshot.Directus = true
	case models.ServiceEAS:
		m.snapshot.EAS = true
	}
	s := m.snapshot
	m.mu.Unlock()
	metrics.SetServiceHealth(string(models.ServiceDirectus), s.Directus)
	metrics.SetServiceHealth(string(models.ServiceEAS), s.EAS)
}
