package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/debugger"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/serviceworker"
	"github.com/chromedp/chromedp"

	"github.com/hmgle/sourcewatch/internal/config"
	"github.com/hmgle/sourcewatch/pkg/logger"
)

const detachTimeout = 2 * time.Second

// Session is a launched browser with one instrumented tab.
type Session struct {
	config *config.Config
	logger logger.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	idle chan struct{}
}

// NewSession prepares the browser allocator. Nothing is launched until
// Start.
func NewSession(parent context.Context, cfg *config.Config, log logger.Logger) *Session {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("start-maximized", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if !cfg.Headless {
		opts = append(opts,
			chromedp.Flag("hide-scrollbars", false),
			chromedp.Flag("mute-audio", false),
		)
	}
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Debug),
		chromedp.WithErrorf(log.Debug),
	)

	return &Session{
		config:      cfg,
		logger:      log,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
		idle:        make(chan struct{}, 1),
	}
}

// Browser returns the command interface of the session's tab.
func (s *Session) Browser() Browser {
	return &cdpBrowser{tab: s.ctx}
}

// Start launches the browser, subscribes m to the tab's events and
// enables every instrumented domain. m must be running before the first
// navigation since paused requests are resumed by its loop.
func (s *Session) Start(m *Monitor) error {
	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		if le, ok := ev.(*page.EventLifecycleEvent); ok {
			if le.Name == "networkIdle" {
				s.signalIdle()
			}
			return
		}
		m.Enqueue(ev)
	})

	err := chromedp.Run(s.ctx, instrumentActions()...)
	if err != nil {
		return fmt.Errorf("failed to establish browser session: %w", err)
	}

	m.Start()
	s.logger.Debug("Browser session established")
	return nil
}

// Navigate loads url and waits until the network is idle or the
// navigation timeout elapses.
func (s *Session) Navigate(url string) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.NavigationTimeout)
	defer cancel()

	// Discard idle signals from earlier documents.
	select {
	case <-s.idle:
	default:
	}

	if err := chromedp.Run(ctx, chromedp.Navigate(url)); err != nil {
		return err
	}

	select {
	case <-s.idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for network idle: %w", ctx.Err())
	}
}

// instrumentActions enables the domains the monitor listens to. Script
// parsing needs the debugger, which must never halt the page on a
// debugger statement or breakpoint since nothing would resume it.
func instrumentActions() []chromedp.Action {
	patterns := []*fetch.RequestPattern{
		{URLPattern: "*", RequestStage: fetch.RequestStageRequest},
		{URLPattern: "*", RequestStage: fetch.RequestStageResponse},
	}

	return []chromedp.Action{
		fetch.Enable().WithPatterns(patterns),
		network.Enable(),
		runtime.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := debugger.Enable().Do(ctx)
			return err
		}),
		debugger.SetSkipAllPauses(true),
		serviceworker.Enable(),
		page.SetLifecycleEventsEnabled(true),
	}
}

func (s *Session) signalIdle() {
	select {
	case s.idle <- struct{}{}:
	default:
	}
}

// Close stops request interception, then closes the tab and the browser.
func (s *Session) Close() error {
	if c := chromedp.FromContext(s.ctx); c != nil && c.Target != nil {
		ctx, cancel := context.WithTimeout(s.ctx, detachTimeout)
		if err := chromedp.Run(ctx, fetch.Disable()); err != nil {
			s.logger.Debug("Failed to disable interception: %v", err)
		}
		cancel()
	}

	err := chromedp.Cancel(s.ctx)
	s.cancel()
	s.allocCancel()
	return err
}
