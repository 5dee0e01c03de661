package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kbukum/stagekit/bootstrap"
	"github.com/kbukum/stagekit/encryption"
	apperrors "github.com/kbukum/stagekit/errors"
	"github.com/kbukum/stagekit/logger"
	"github.com/kbukum/stagekit/pipeline"
	"github.com/kbukum/stagekit/resilience"
)

// Image moves through the pipeline. Each stage hands ownership downstream.
type Image struct {
	Index  int
	URL    string
	Data   []byte
	Sealed bool
}

type images struct {
	cfg     PipelineConfig
	sealer  encryption.Sealer
	log     *logger.Logger
	limiter *resilience.RateLimiter
	breaker *resilience.CircuitBreaker
	disk    *resilience.Bulkhead

	mu       sync.Mutex
	attempts map[string]int
}

func newImages(cfg PipelineConfig, sealer encryption.Sealer, log *logger.Logger) *images {
	m := &images{
		cfg:      cfg,
		sealer:   sealer,
		log:      log,
		limiter:  resilience.NewRateLimiter(cfg.RateLimit),
		disk:     resilience.NewBulkhead(cfg.Disk),
		attempts: make(map[string]int),
	}
	bc := cfg.Breaker
	bc.OnStateChange = func(name string, from, to resilience.State) {
		log.Warn("circuit state changed", logger.Fields("breaker", name, "from", from.String(), "to", to.String()))
	}
	m.breaker = resilience.NewCircuitBreaker(bc)
	return m
}

func (m *images) urls() []string {
	out := make([]string, m.cfg.URLs)
	for i := range out {
		out[i] = fmt.Sprintf("%s/%d", m.cfg.BaseURL, i)
	}
	return out
}

// builder wires fetch → process → seal → save. The seal stage is present
// only when a sealer is configured. Downloads are rate limited and go
// through a circuit breaker so a dead host fails fast.
func (m *images) builder() *pipeline.Builder[string] {
	src := pipeline.FromSlice(m.urls())
	fetched := pipeline.ThenWith(src, m.download(), m.cfg.Fetch)
	processed := pipeline.ThenWith(fetched, resilience.WithRetry(m.retryConfig(), m.process), m.cfg.Process)
	if m.sealer != nil {
		processed = pipeline.ThenWith(processed, m.seal, m.cfg.Seal)
	}
	return pipeline.ThenWith(processed, resilience.WithBulkhead(m.disk, m.save), m.cfg.Save)
}

func (m *images) download() pipeline.Transform[string, Image] {
	return resilience.WithCircuitBreaker(m.breaker, resilience.WithRateLimit(m.limiter, m.fetch))
}

// stages describes the pipeline for the startup summary.
func (m *images) stages() []bootstrap.StageInfo {
	cfgs := []pipeline.StageConfig{m.cfg.Fetch, m.cfg.Process}
	if m.sealer != nil {
		cfgs = append(cfgs, m.cfg.Seal)
	}
	cfgs = append(cfgs, m.cfg.Save)

	out := make([]bootstrap.StageInfo, 0, len(cfgs))
	for _, c := range cfgs {
		policy := c.Policy
		if p, err := c.BuildPolicy(); err == nil {
			policy = p.String()
		}
		out = append(out, bootstrap.StageInfo{Name: c.Name, Policy: policy})
	}
	return out
}

func (m *images) retryConfig() resilience.RetryConfig {
	rc := m.cfg.Retry
	rc.OnRetry = func(attempt int, err error, backoff time.Duration) {
		m.log.Debug("retrying", logger.MergeWithError(logger.Fields("attempt", attempt, "backoff", backoff.String()), err))
	}
	return rc
}

func (m *images) fetch(ctx context.Context, url string) (Image, error) {
	m.log.Debug("downloading", logger.Fields("url", url))
	if err := sleep(ctx, m.cfg.FetchDelay); err != nil {
		return Image{}, err
	}
	rest, ok := strings.CutPrefix(url, m.cfg.BaseURL+"/")
	idx, err := strconv.Atoi(rest)
	if !ok || err != nil {
		return Image{}, apperrors.InvalidFormat("url", m.cfg.BaseURL+"/<n>")
	}
	return Image{Index: idx, URL: url, Data: []byte{0}}, nil
}

func (m *images) process(ctx context.Context, img Image) (Image, error) {
	m.log.Debug("processing", logger.Fields("url", img.URL))
	if err := sleep(ctx, m.cfg.ProcessDelay); err != nil {
		return Image{}, err
	}
	if m.flaky(img) {
		return Image{}, apperrors.Unavailable("processor", "transient failure")
	}
	img.Data = []byte{1}
	return img, nil
}

// flaky reports whether this attempt should fail: the first attempt of
// every FailEvery-th image.
func (m *images) flaky(img Image) bool {
	if m.cfg.FailEvery <= 0 || (img.Index+1)%m.cfg.FailEvery != 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[img.URL]++
	return m.attempts[img.URL] == 1
}

func (m *images) seal(_ context.Context, img Image) (Image, error) {
	sealed, err := m.sealer.Seal(img.Data, []byte(img.URL))
	if err != nil {
		return Image{}, err
	}
	img.Data = sealed
	img.Sealed = true
	return img, nil
}

func (m *images) save(ctx context.Context, img Image) (string, error) {
	m.log.Debug("saving", logger.Fields("url", img.URL))
	if err := sleep(ctx, m.cfg.SaveDelay); err != nil {
		return "", err
	}
	if m.cfg.OutputDir != "" {
		name := fmt.Sprintf("image-%04d.bin", img.Index)
		if err := os.WriteFile(filepath.Join(m.cfg.OutputDir, name), img.Data, 0o600); err != nil {
			return "", fmt.Errorf("save %s: %w", img.URL, err)
		}
	}
	return img.URL, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
