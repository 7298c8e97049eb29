package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/device"
	"fieldsync/internal/events"
	"fieldsync/internal/health"
	"fieldsync/internal/models"
	"fieldsync/internal/queue"
	"fieldsync/internal/repository"
	"fieldsync/internal/storage"
	"fieldsync/internal/worker"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	mu       sync.Mutex
	triggers []worker.Request
	runs     []worker.Request
	result   worker.BatchResult
	err      error
}

func (r *stubRunner) Trigger(req worker.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = append(r.triggers, req)
}

func (r *stubRunner) Run(_ context.Context, req worker.Request) (worker.BatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, req)
	return r.result, r.err
}

type staticHealth health.Snapshot

func (h staticHealth) Snapshot() health.Snapshot { return health.Snapshot(h) }

type fixedCountdown time.Duration

func (c fixedCountdown) Countdown() time.Duration { return time.Duration(c) }

type testEnv struct {
	server *HTTPServer
	queue  *queue.Service
	runner *stubRunner
	device *device.State
}

var testTaxonomy = models.NewTaxonomy([]models.Action{
	{ID: 1, Name: "Beach cleanup", Category: "collection"},
	{ID: 2, Name: "Sorting", Category: "processing"},
})

func newTestEnv(t *testing.T, cfg config.APIConfig) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	svc := queue.NewService(storage.New(repository.NewMemoryKVStore()), events.NewEventBus(&logger), 3, &logger)
	require.NoError(t, svc.Load(context.Background()))
	runner := &stubRunner{}
	svc.SetRunner(runner)

	dev := device.NewState()
	deps := Deps{
		Queue:     svc,
		Health:    staticHealth{Directus: true, EAS: false},
		Countdown: fixedCountdown(42 * time.Second),
		Device:    dev,
		Taxonomy:  testTaxonomy,
	}
	return &testEnv{
		server: NewHTTPServer(cfg, deps, &logger),
		queue:  svc,
		runner: runner,
		device: dev,
	}
}

func openConfig() config.APIConfig {
	return config.APIConfig{Enabled: true, HTTP: config.APIHTTPConfig{Port: 0}}
}

func ptr[T any](v T) *T { return &v }

func validItem() *models.QueueItem {
	return &models.QueueItem{
		ActionID:          2,
		ActionName:        "Sorting",
		IncomingMaterials: []models.MaterialDetail{{ID: 1, Code: "PET-1", Weight: ptr(2.5)}},
	}
}
