package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/action"
	"github.com/xkilldash9x/scout-cli/internal/config"
)

const (
	defaultElementTimeout  = 10 * time.Second
	fallbackElementTimeout = 2 * time.Second
)

// wholePage scopes scrape the entire document.
var wholePage = map[string]bool{
	"":         true,
	"body":     true,
	"html":     true,
	"document": true,
	"page":     true,
	"viewport": true,
	"visible":  true,
}

// fallbackInputs are tried when a type target cannot be found.
var fallbackInputs = []Locator{
	{Query: `input[type='search'], input[type='text'], input:not([type]), textarea`},
	{Query: `//div[@contenteditable='true']`, XPath: true},
}

// SurfaceOption configures a Surface.
type SurfaceOption func(*Surface)

// WithElementTimeout bounds how long click, type and scoped scrape wait for
// their element to become visible.
func WithElementTimeout(d time.Duration) SurfaceOption {
	return func(s *Surface) {
		if d > 0 {
			s.elementTimeout = d
		}
	}
}

// Surface drives a single chromedp browser on behalf of one agent.
type Surface struct {
	id             string
	cfg            config.BrowserConfig
	logger         *zap.Logger
	ctx            context.Context
	cancel         context.CancelFunc
	visited        *visitedSet
	elementTimeout time.Duration
	onRelease      func(id string)

	// mu serializes actions; a surface runs one action at a time.
	mu     sync.Mutex
	opened bool

	closed       atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

var _ schemas.BrowserSurface = (*Surface)(nil)

func newSurface(ctx context.Context, cancel context.CancelFunc, cfg config.BrowserConfig, logger *zap.Logger, opts ...SurfaceOption) (*Surface, error) {
	visited, err := newVisitedSet(cfg.VisitedCacheSize)
	if err != nil {
		return nil, err
	}
	s := &Surface{
		cfg:            cfg,
		logger:         logger.Named("surface"),
		ctx:            ctx,
		cancel:         cancel,
		visited:        visited,
		elementTimeout: defaultElementTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Execute performs one action. Page level problems come back as a failed
// observation; errors are reserved for a dead browser, a closed surface or an
// expired ctx.
func (s *Surface) Execute(ctx context.Context, act schemas.Action) (schemas.Observation, error) {
	if s.closed.Load() {
		return schemas.Observation{}, schemas.ErrSurfaceClosed
	}
	if err := ctx.Err(); err != nil {
		return schemas.Observation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return schemas.Observation{}, fmt.Errorf("%w: browser context is gone", schemas.ErrSurfaceCrashed)
	}

	s.logger.Debug("Executing action", zap.String("action", act.String()))

	if !s.opened && (act.Kind == schemas.ActionType || act.Kind == schemas.ActionScrape) {
		s.logger.Debug("No page open yet, loading search home first")
		obs, err := s.navigate(ctx, SearchHome)
		if err != nil || !obs.Success {
			return s.outcome(ctx, act, obs, err)
		}
	}

	var (
		obs schemas.Observation
		err error
	)
	switch act.Kind {
	case schemas.ActionNavigate:
		obs, err = s.navigate(ctx, act.URL)
	case schemas.ActionClick:
		obs, err = s.click(ctx, act.Target)
	case schemas.ActionType:
		obs, err = s.typeText(ctx, act.Target, act.Text, act.Submit)
	case schemas.ActionScrape:
		obs, err = s.scrape(ctx, act.Scope)
	default:
		obs = schemas.FailedObservation(schemas.ObservationExecuted, "unsupported action kind %q", act.Kind)
	}
	return s.outcome(ctx, act, obs, err)
}

// outcome sorts an operation error into surface faults, which are returned,
// and page failures, which become a failed observation.
func (s *Surface) outcome(ctx context.Context, act schemas.Action, obs schemas.Observation, err error) (schemas.Observation, error) {
	if err == nil {
		obs.Kind = schemas.ObservationExecuted
		return obs, nil
	}
	if s.crashed(err) {
		s.logger.Error("Browser surface crashed", zap.String("action", act.String()), zap.Error(err))
		return schemas.Observation{}, fmt.Errorf("%w: %v", schemas.ErrSurfaceCrashed, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return schemas.Observation{}, ctxErr
	}
	s.logger.Debug("Action failed", zap.String("action", act.String()), zap.Error(err))
	return schemas.FailedObservation(schemas.ObservationExecuted, "%s failed: %v", act.Kind, err), nil
}

func (s *Surface) crashed(err error) bool {
	if s.closed.Load() {
		return false
	}
	if s.ctx.Err() != nil {
		return true
	}
	if errors.Is(err, chromedp.ErrInvalidContext) || errors.Is(err, chromedp.ErrChannelClosed) || errors.Is(err, chromedp.ErrInvalidTarget) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"websocket", "target closed", "browser has disconnected", "connection reset", "broken pipe"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// run executes actions bound to both the browser and the caller's context.
func (s *Surface) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (s *Surface) navigate(ctx context.Context, raw string) (schemas.Observation, error) {
	target := RewriteSearchURL(raw)
	if target != raw {
		s.logger.Info("Rewrote search URL", zap.String("from", raw), zap.String("to", target))
	}
	if s.visited.Seen(target) {
		return schemas.FailedObservation(schemas.ObservationExecuted, "url already visited: %s", action.NormalizeURL(target)), nil
	}
	if err := s.load(ctx, target); err != nil {
		return schemas.Observation{}, err
	}
	s.opened = true
	return s.page(ctx)
}

// load navigates to target. With a stop delay configured, a page still
// loading after the delay is stopped and treated as loaded.
func (s *Surface) load(ctx context.Context, target string) error {
	wait, stopEarly := s.cfg.NavigationTimeout, false
	if d := s.cfg.NavStopDelay; d > 0 && (wait <= 0 || d < wait) {
		wait, stopEarly = d, true
	}
	if wait <= 0 {
		return s.run(ctx, chromedp.Navigate(target))
	}

	loadCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	err := s.run(loadCtx, chromedp.Navigate(target))
	if err == nil || ctx.Err() != nil || !errors.Is(loadCtx.Err(), context.DeadlineExceeded) {
		return err
	}
	if !stopEarly {
		return fmt.Errorf("navigation to %s timed out after %s", target, wait)
	}
	s.logger.Debug("Stopping page load", zap.String("url", target), zap.Duration("after", wait))
	return s.run(ctx, stopLoading())
}

// settle gives a navigation triggered by an interaction time to commit and
// then stops further loading.
func (s *Surface) settle(ctx context.Context) error {
	d := s.cfg.NavStopDelay
	if d <= 0 {
		return nil
	}
	return s.run(ctx, chromedp.Sleep(d), stopLoading())
}

func stopLoading() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, exp, err := runtime.Evaluate("window.stop()").Do(ctx)
		if err != nil {
			return err
		}
		if exp != nil {
			return exp
		}
		return nil
	})
}

// page describes the current document and records it as visited.
func (s *Surface) page(ctx context.Context) (schemas.Observation, error) {
	var loc, title string
	if err := s.run(ctx, chromedp.Location(&loc), chromedp.Title(&title)); err != nil {
		return schemas.Observation{}, err
	}
	s.visited.Mark(loc)
	return schemas.Observation{
		Kind:    schemas.ObservationExecuted,
		Success: true,
		URL:     loc,
		Title:   title,
	}, nil
}

// find waits for loc to become visible. found is false when the wait ran out
// while ctx was still live.
func (s *Surface) find(ctx context.Context, loc Locator, timeout time.Duration) (found bool, err error) {
	findCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err = s.run(findCtx, chromedp.WaitVisible(loc.Query, loc.By()))
	if err == nil {
		return true, nil
	}
	if ctx.Err() == nil && findCtx.Err() != nil {
		return false, nil
	}
	return false, err
}

func (s *Surface) click(ctx context.Context, target string) (schemas.Observation, error) {
	loc, err := ResolveLocator(target)
	if err != nil {
		return schemas.FailedObservation(schemas.ObservationExecuted, "invalid selector: %v", err), nil
	}
	found, err := s.find(ctx, loc, s.elementTimeout)
	if err != nil {
		return schemas.Observation{}, err
	}
	if !found {
		return schemas.FailedObservation(schemas.ObservationExecuted, "element not found: %s", target), nil
	}

	var href, current string
	var hasHref bool
	if err := s.run(ctx,
		chromedp.AttributeValue(loc.Query, "href", &href, &hasHref, loc.By()),
		chromedp.Location(&current),
	); err != nil {
		return schemas.Observation{}, err
	}
	if hasHref {
		if abs := absoluteURL(current, href); abs != "" && s.visited.Seen(abs) {
			return schemas.FailedObservation(schemas.ObservationExecuted, "link already visited: %s", action.NormalizeURL(abs)), nil
		}
	}

	if err := s.run(ctx,
		chromedp.ScrollIntoView(loc.Query, loc.By()),
		chromedp.Click(loc.Query, loc.By(), chromedp.NodeVisible),
	); err != nil {
		return schemas.Observation{}, err
	}
	if err := s.settle(ctx); err != nil {
		return schemas.Observation{}, err
	}
	s.opened = true
	return s.page(ctx)
}

func (s *Surface) typeText(ctx context.Context, target, text string, submit bool) (schemas.Observation, error) {
	candidates := make([]Locator, 0, len(fallbackInputs)+1)
	if loc, err := ResolveLocator(target); err == nil {
		candidates = append(candidates, loc)
	}
	candidates = append(candidates, fallbackInputs...)

	var (
		input Locator
		found bool
	)
	for i, c := range candidates {
		timeout := s.elementTimeout
		if i > 0 {
			timeout = fallbackElementTimeout
		}
		ok, err := s.find(ctx, c, timeout)
		if err != nil {
			return schemas.Observation{}, err
		}
		if ok {
			input, found = c, true
			break
		}
	}
	if !found {
		return schemas.FailedObservation(schemas.ObservationExecuted, "type target not found: %s", target), nil
	}
	if input.Query != candidates[0].Query {
		s.logger.Debug("Typing into fallback input", zap.String("requested", target), zap.String("used", input.Query))
	}

	if err := s.run(ctx, chromedp.Focus(input.Query, input.By()), chromedp.Clear(input.Query, input.By())); err != nil {
		if ctx.Err() != nil || s.crashed(err) {
			return schemas.Observation{}, err
		}
		// Contenteditable elements cannot be cleared; typing still works.
		s.logger.Debug("Could not clear input", zap.Error(err))
	}

	keys := text
	if submit {
		keys += kb.Enter
	}
	if err := s.run(ctx, chromedp.SendKeys(input.Query, keys, input.By())); err != nil {
		return schemas.Observation{}, err
	}
	if submit {
		if err := s.settle(ctx); err != nil {
			return schemas.Observation{}, err
		}
	}
	return s.page(ctx)
}

func (s *Surface) scrape(ctx context.Context, scope string) (schemas.Observation, error) {
	root := Locator{Query: "body"}
	if !wholePage[strings.ToLower(strings.TrimSpace(scope))] {
		if loc, err := ResolveLocator(scope); err == nil {
			found, err := s.find(ctx, loc, s.elementTimeout)
			if err != nil {
				return schemas.Observation{}, err
			}
			if found {
				root = loc
			} else {
				s.logger.Debug("Scrape scope not found, using whole page", zap.String("scope", scope))
			}
		}
	}

	var outer, loc, title string
	if err := s.run(ctx,
		chromedp.OuterHTML(root.Query, &outer, root.By()),
		chromedp.Location(&loc),
		chromedp.Title(&title),
	); err != nil {
		return schemas.Observation{}, err
	}

	base, _ := url.Parse(loc)
	ext, err := Extract(strings.NewReader(outer), base, s.cfg.MaxLinks)
	if err != nil {
		return schemas.FailedObservation(schemas.ObservationExecuted, "%v", err), nil
	}
	s.visited.Annotate(&ext)

	return schemas.Observation{
		Kind:    schemas.ObservationExecuted,
		Success: true,
		URL:     loc,
		Title:   title,
		Text:    ext.Text(s.cfg.MaxScrapeChars),
		Links:   ext.Links,
	}, nil
}

// Close shuts the browser down unless the configuration keeps it open, in
// which case it stays up until the manager shuts down. Further actions fail
// with ErrSurfaceClosed either way.
func (s *Surface) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.cfg.KeepOpen {
		s.logger.Info("Keeping browser open after session", zap.String("surface_id", s.id))
		return nil
	}
	return s.shutdown(ctx)
}

func (s *Surface) shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(s.ctx) }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.shutdownErr = fmt.Errorf("failed to close browser: %w", err)
			}
		case <-ctx.Done():
			s.shutdownErr = fmt.Errorf("browser close interrupted: %w", ctx.Err())
		}
		s.cancel()
		if s.onRelease != nil {
			s.onRelease(s.id)
		}
	})
	return s.shutdownErr
}

func absoluteURL(base, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if b, err := url.Parse(base); err == nil {
		ref = b.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	return ref.String()
}
