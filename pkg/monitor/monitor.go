// Package monitor correlates captured sources values with the traffic,
// scripts and console output of an instrumented browser tab.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/debugger"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/serviceworker"

	"github.com/hmgle/sourcewatch/internal/config"
	"github.com/hmgle/sourcewatch/pkg/filter"
	"github.com/hmgle/sourcewatch/pkg/logger"
	"github.com/hmgle/sourcewatch/pkg/registry"
)

// Monitor owns the registry and processes browser events one at a time,
// in arrival order, on the goroutine running Run.
type Monitor struct {
	config   *config.Config
	browser  Browser
	filter   *filter.Filter
	registry *registry.Registry
	sink     logger.EventSink
	queue    *eventQueue
	now      func() time.Time

	// Loop-owned state.
	contexts map[runtime.ExecutionContextID]string
	workers  map[string]serviceworker.VersionStatus
	probing  bool

	// Page-side retrievals in flight.
	pending sync.WaitGroup

	mu    sync.Mutex
	state State
	done  chan struct{}
}

// New creates an idle monitor.
func New(cfg *config.Config, browser Browser, sink logger.EventSink) *Monitor {
	return &Monitor{
		config:   cfg,
		browser:  browser,
		filter:   filter.New(cfg.Domain, cfg.DomainFilter),
		registry: registry.New(cfg.SourcesPath, cfg.SourcesField),
		sink:     sink,
		queue:    newEventQueue(),
		now:      time.Now,
		contexts: make(map[runtime.ExecutionContextID]string),
		workers:  make(map[string]serviceworker.VersionStatus),
		state:    StateIdle,
		done:     make(chan struct{}),
	}
}

// Registry exposes the tracked secrets.
func (m *Monitor) Registry() *registry.Registry { return m.registry }

// Filter exposes the traffic filter.
func (m *Monitor) Filter() *filter.Filter { return m.filter }

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start moves an idle monitor to Monitoring.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateIdle {
		m.state = StateMonitoring
	}
}

// Stop terminates the monitor. Pending events are dropped and Run returns
// after the event in progress, if any.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.state = StateTerminated
	m.mu.Unlock()

	m.queue.close()
}

// Done is closed when Run returns.
func (m *Monitor) Done() <-chan struct{} { return m.done }

// Enqueue schedules a browser event for handling. It never blocks and is
// safe to call from chromedp listeners. Events the monitor has no handler
// for are discarded.
func (m *Monitor) Enqueue(ev interface{}) bool {
	if !handled(ev) {
		return false
	}
	return m.queue.push(ev)
}

// RequestProbe schedules one run of the evaluation probe.
func (m *Monitor) RequestProbe() bool {
	return m.queue.push(probeRequest{})
}

// StartProbes requests a probe every interval until ctx ends or the
// monitor stops.
func (m *Monitor) StartProbes(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case <-ticker.C:
				if !m.RequestProbe() {
					return
				}
			}
		}
	}()
}

// Run handles queued events until ctx ends or Stop is called.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.done)

	for {
		ev, ok := m.queue.pop(ctx)
		if !ok {
			return
		}
		m.Handle(ctx, ev)
	}
}

// Handle processes a single event. A failing handler is reported as a
// diagnostic and never stops the loop.
func (m *Monitor) Handle(ctx context.Context, ev interface{}) {
	defer func() {
		if r := recover(); r != nil {
			m.sink.DiagnosticError("Error handling %T: %v", ev, r)
		}
	}()

	switch e := ev.(type) {
	case *fetch.EventRequestPaused:
		m.handleRequestPaused(ctx, e)
	case *network.EventRequestWillBeSent:
		m.handleWorkerRequest(e)
	case *network.EventResponseReceived:
		m.handleWorkerResponse(e)
	case *network.EventWebSocketFrameSent:
		m.handleWebSocketFrame(PrefixFoundWSSent, e.Response)
	case *network.EventWebSocketFrameReceived:
		m.handleWebSocketFrame(PrefixFoundWSReceived, e.Response)
	case *runtime.EventExecutionContextCreated:
		if e.Context != nil {
			m.contexts[e.Context.ID] = e.Context.Origin
		}
	case *runtime.EventExecutionContextDestroyed:
		delete(m.contexts, e.ExecutionContextID)
	case *runtime.EventExecutionContextsCleared:
		clear(m.contexts)
	case *debugger.EventScriptParsed:
		m.handleScriptParsed(ctx, e)
	case *runtime.EventConsoleAPICalled:
		m.handleConsoleAPICalled(e)
	case *serviceworker.EventWorkerVersionUpdated:
		m.handleWorkerVersionUpdated(ctx, e)
	case probeRequest:
		m.probe(ctx)
	case probeResult:
		m.handleProbeResult(e)
	case workerScriptResult:
		m.handleWorkerScript(e)
	}
}

func handled(ev interface{}) bool {
	switch ev.(type) {
	case *fetch.EventRequestPaused,
		*network.EventRequestWillBeSent,
		*network.EventResponseReceived,
		*network.EventWebSocketFrameSent,
		*network.EventWebSocketFrameReceived,
		*runtime.EventExecutionContextCreated,
		*runtime.EventExecutionContextDestroyed,
		*runtime.EventExecutionContextsCleared,
		*debugger.EventScriptParsed,
		*runtime.EventConsoleAPICalled,
		*serviceworker.EventWorkerVersionUpdated:
		return true
	}
	return false
}

// commandContext bounds a single DevTools command.
func (m *Monitor) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.config.CommandTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.config.CommandTimeout)
}

// retrieve runs fn off the loop under the command timeout and queues its
// result. Results arriving after Stop are dropped.
func (m *Monitor) retrieve(ctx context.Context, fn func(ctx context.Context) interface{}) {
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		cctx, cancel := m.commandContext(ctx)
		defer cancel()
		m.queue.push(fn(cctx))
	}()
}

// Wait blocks until page-side retrievals started by handlers have finished.
func (m *Monitor) Wait() { m.pending.Wait() }

// emit writes a record, logging sink failures at debug level.
func (m *Monitor) emit(prefix string, record any) {
	if err := m.sink.Emit(prefix, record); err != nil {
		m.sink.Debug("Failed to write %q record: %v", prefix, err)
	}
}

func (m *Monitor) timestamp() string {
	return logger.Timestamp(m.now())
}
