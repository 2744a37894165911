package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/config"
)

// Manager launches one browser process per surface. Surfaces are never
// pooled or shared between agents.
type Manager struct {
	cfg         config.BrowserConfig
	logger      *zap.Logger
	allocOpts   []chromedp.ExecAllocatorOption
	surfaceOpts []SurfaceOption

	mu       sync.Mutex
	surfaces map[string]*Surface
	closed   bool
}

var _ schemas.SurfaceFactory = (*Manager)(nil)

// NewManager creates a manager for the given browser configuration.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger, opts ...SurfaceOption) *Manager {
	return &Manager{
		cfg:         cfg,
		logger:      logger.Named("browser_manager"),
		allocOpts:   DefaultAllocatorOptions(cfg),
		surfaceOpts: opts,
		surfaces:    make(map[string]*Surface),
	}
}

// NewSurface starts a fresh browser for agentID and returns its surface. The
// browser outlives ctx; ctx only bounds the launch.
func (m *Manager) NewSurface(ctx context.Context, agentID string) (schemas.BrowserSurface, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("browser manager is shut down")
	}
	m.mu.Unlock()

	logger := m.logger.With(zap.String("agent_id", agentID))
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), m.allocOpts...)

	sugar := logger.Sugar()
	ctxOpts := []chromedp.ContextOption{
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	}
	if m.cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(sugar.Debugf))
	}
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, ctxOpts...)
	cancel := func() {
		browserCancel()
		allocCancel()
	}

	// The first Run on the browser context owns the process, so it must not
	// carry the caller's deadline.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()
	select {
	case err := <-started:
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to launch browser for %s: %w", agentID, err)
		}
	case <-ctx.Done():
		cancel()
		<-started
		return nil, fmt.Errorf("browser launch for %s interrupted: %w", agentID, ctx.Err())
	}

	s, err := newSurface(browserCtx, cancel, m.cfg, logger, m.surfaceOpts...)
	if err != nil {
		cancel()
		return nil, err
	}
	s.id = uuid.NewString()
	s.onRelease = m.release

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return nil, errors.New("browser manager is shut down")
	}
	m.surfaces[s.id] = s
	m.mu.Unlock()

	logger.Info("Browser surface started", zap.String("surface_id", s.id), zap.Bool("headless", m.cfg.Headless))
	return s, nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.surfaces, id)
	m.mu.Unlock()
}

// Active returns the number of surfaces whose browser is still running.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.surfaces)
}

// Shutdown terminates every remaining browser, including those kept open
// after their session finished.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	remaining := make([]*Surface, 0, len(m.surfaces))
	for _, s := range m.surfaces {
		remaining = append(remaining, s)
	}
	m.mu.Unlock()

	m.logger.Info("Shutting down browser manager", zap.Int("surfaces", len(remaining)))
	var errs []error
	for _, s := range remaining {
		s.closed.Store(true)
		if err := s.shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
