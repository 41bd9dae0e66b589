package monitor

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/debugger"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/serviceworker"
	"github.com/samber/lo"

	"github.com/hmgle/sourcewatch/pkg/logger"
	"github.com/hmgle/sourcewatch/pkg/match"
)

// handleRequestPaused serves both interception stages. The paused request
// is always resumed, including when the handler panics.
func (m *Monitor) handleRequestPaused(ctx context.Context, ev *fetch.EventRequestPaused) {
	defer func() {
		cctx, cancel := m.commandContext(ctx)
		defer cancel()
		if err := m.browser.ContinueRequest(cctx, ev.RequestID); err != nil {
			m.sink.Debug("Failed to continue request %s: %v", ev.RequestID, err)
		}
	}()

	if ev.Request == nil {
		return
	}
	if ev.ResponseErrorReason != "" {
		m.sink.Debug("Request failed: %s (%s)", ev.Request.URL, ev.ResponseErrorReason)
		return
	}
	if ev.ResponseStatusCode != 0 {
		m.handlePageResponse(ctx, ev)
		return
	}
	m.handlePageRequest(ctx, ev)
}

func (m *Monitor) handlePageRequest(ctx context.Context, ev *fetch.EventRequestPaused) {
	url := ev.Request.URL
	headers := headerMap(ev.Request.Headers)
	resourceType := resourceTypeName(ev.ResourceType)

	if m.registry.Size() > 0 {
		postData := m.postData(ctx, ev)
		for _, secret := range m.registry.Values() {
			result, ok := match.Find(url, secret)
			if !ok && postData != "" {
				result, ok = match.Find(postData, secret)
			}
			if !ok {
				continue
			}
			detection := &logger.Detection{
				URL:          url,
				ResourceType: resourceType,
				Encoding:     string(result.Encoding),
			}
			if postData != "" {
				detection.PostData = logger.Preview(postData, previewLength)
			}
			m.emit(PrefixFoundRequest, detection)
		}
	}

	if m.filter.ShouldLog(url, headers, resourceType, false) {
		m.emit(PrefixRequest, &logger.TrafficRecord{
			Timestamp:    m.timestamp(),
			URL:          url,
			Method:       ev.Request.Method,
			Headers:      m.filter.Annotate(headers),
			ResourceType: resourceType,
		})
	}
}

func (m *Monitor) handlePageResponse(ctx context.Context, ev *fetch.EventRequestPaused) {
	url := ev.Request.URL
	headers := entryMap(ev.ResponseHeaders)
	resourceType := resourceTypeName(ev.ResourceType)

	loggable := m.filter.ShouldLog(url, headers, resourceType, false)
	inspect := m.registry.Inspects(url)
	if !loggable && !inspect {
		return
	}

	timestamp := m.timestamp()
	cctx, cancel := m.commandContext(ctx)
	raw, err := m.browser.ResponseBody(cctx, ev.RequestID)
	cancel()
	if err != nil {
		if loggable {
			m.sink.DiagnosticError("Error processing response: %v", err)
		} else {
			m.sink.Debug("Failed to read body of %s: %v", url, err)
		}
		return
	}
	body := string(raw)

	if inspect {
		m.capture(url, body)
	}

	if loggable {
		m.emit(PrefixResponse, &logger.TrafficRecord{
			Timestamp:    timestamp,
			URL:          url,
			Status:       ev.ResponseStatusCode,
			Headers:      m.filter.Annotate(headers),
			ResourceType: resourceType,
			Body:         logger.Truncate(body, m.config.MaxBodySize),
		})
	}
}

func (m *Monitor) capture(url, body string) {
	value, added := m.registry.Capture(url, body)
	if !added {
		return
	}
	m.emit(PrefixCapture, &logger.Capture{
		Value:       logger.Preview(value, valuePreview),
		TotalValues: m.registry.Size(),
	})
}

func (m *Monitor) handleWorkerRequest(ev *network.EventRequestWillBeSent) {
	if ev.Request == nil {
		return
	}
	url := ev.Request.URL
	headers := headerMap(ev.Request.Headers)
	resourceType := resourceTypeName(ev.Type)

	if !m.filter.ShouldLog(url, headers, resourceType, true) {
		return
	}
	m.emit(PrefixWorkerRequest, &logger.TrafficRecord{
		Timestamp:       m.timestamp(),
		URL:             url,
		Method:          ev.Request.Method,
		Headers:         m.filter.Annotate(headers),
		ResourceType:    resourceType,
		IsServiceWorker: true,
	})
}

func (m *Monitor) handleWorkerResponse(ev *network.EventResponseReceived) {
	if ev.Response == nil {
		return
	}
	url := ev.Response.URL
	headers := headerMap(ev.Response.Headers)
	resourceType := resourceTypeName(ev.Type)

	if !m.filter.ShouldLog(url, headers, resourceType, true) {
		return
	}
	m.emit(PrefixWorkerResponse, &logger.TrafficRecord{
		Timestamp:       m.timestamp(),
		URL:             url,
		Status:          ev.Response.Status,
		Headers:         m.filter.Annotate(headers),
		ResourceType:    resourceType,
		IsServiceWorker: true,
	})
}

func (m *Monitor) handleWebSocketFrame(prefix string, frame *network.WebSocketFrame) {
	if frame == nil || frame.PayloadData == "" {
		return
	}
	for _, result := range match.MatchAny(frame.PayloadData, m.registry.Values()) {
		m.emit(prefix, &logger.Detection{
			Payload:  logger.Preview(frame.PayloadData, previewLength),
			Encoding: string(result.Encoding),
		})
	}
}

func (m *Monitor) handleScriptParsed(ctx context.Context, ev *debugger.EventScriptParsed) {
	secrets := m.registry.Values()
	if len(secrets) == 0 {
		return
	}

	cctx, cancel := m.commandContext(ctx)
	source, err := m.browser.ScriptSource(cctx, ev.ScriptID)
	cancel()
	if err != nil {
		m.sink.Debug("Failed to get source of script %s: %v", ev.ScriptID, err)
		return
	}

	url := lo.Ternary(ev.URL != "", ev.URL, inlineScript)
	for _, result := range match.MatchAny(source, secrets) {
		m.emit(PrefixFoundScript, &logger.Detection{
			URL:      url,
			Origin:   m.origin(ev.ExecutionContextID),
			Encoding: string(result.Encoding),
			Context:  match.Excerpt(source, result.Needle, contextRadius),
		})
	}
}

func (m *Monitor) handleConsoleAPICalled(ev *runtime.EventConsoleAPICalled) {
	secrets := m.registry.Values()
	if len(secrets) == 0 {
		return
	}

	url := m.consoleURL(ev)
	for _, arg := range ev.Args {
		text := remoteValue(arg)
		if text == "" {
			continue
		}
		for _, result := range match.MatchAny(text, secrets) {
			m.emit(PrefixFoundConsole, &logger.Detection{
				URL:      url,
				Type:     string(ev.Type),
				Encoding: string(result.Encoding),
				Context:  match.Excerpt(text, result.Needle, contextRadius),
			})
		}
	}
}

// handleWorkerVersionUpdated checks a worker script once per status change.
// The script is downloaded from inside the page, which goes through request
// interception, so the download runs off the loop.
func (m *Monitor) handleWorkerVersionUpdated(ctx context.Context, ev *serviceworker.EventWorkerVersionUpdated) {
	for _, version := range ev.Versions {
		if version == nil || version.ScriptURL == "" {
			continue
		}
		if last, seen := m.workers[version.VersionID]; seen && last == version.Status {
			continue
		}
		m.workers[version.VersionID] = version.Status

		if m.registry.Size() == 0 {
			continue
		}

		scriptURL, status := version.ScriptURL, string(version.Status)
		m.retrieve(ctx, func(ctx context.Context) interface{} {
			source, err := m.browser.WorkerScript(ctx, scriptURL)
			return workerScriptResult{scriptURL: scriptURL, status: status, source: source, err: err}
		})
	}
}

func (m *Monitor) handleWorkerScript(res workerScriptResult) {
	if res.err != nil {
		m.sink.Debug("Failed to fetch service worker %s: %v", res.scriptURL, res.err)
		return
	}
	for _, result := range match.MatchAny(res.source, m.registry.Values()) {
		m.emit(PrefixFoundWorker, &logger.Detection{
			URL:      res.scriptURL,
			Status:   res.status,
			Encoding: string(result.Encoding),
			Context:  match.Excerpt(res.source, result.Needle, contextRadius),
		})
	}
}

// probe evaluates the configured expression in the page. At most one
// evaluation is in flight; requests arriving meanwhile are dropped.
func (m *Monitor) probe(ctx context.Context) {
	if m.config.ProbeExpression == "" || m.probing || m.registry.Size() == 0 {
		return
	}
	m.probing = true

	expression := m.config.ProbeExpression
	m.retrieve(ctx, func(ctx context.Context) interface{} {
		value, err := m.browser.Evaluate(ctx, expression)
		return probeResult{value: value, err: err}
	})
}

// handleProbeResult matches an evaluation result against every tracked secret.
func (m *Monitor) handleProbeResult(res probeResult) {
	m.probing = false
	if res.err != nil {
		m.sink.Debug("Evaluation probe failed: %v", res.err)
		return
	}
	for _, result := range match.MatchAny(res.value, m.registry.Values()) {
		m.emit(PrefixFoundEval, &logger.Detection{
			URL:      evaluationURL,
			Encoding: string(result.Encoding),
			Context:  match.Excerpt(res.value, result.Needle, contextRadius),
		})
	}
}

// postData returns the request body, falling back to the network domain
// when the paused event carries no entries.
func (m *Monitor) postData(ctx context.Context, ev *fetch.EventRequestPaused) string {
	if !ev.Request.HasPostData {
		return ""
	}
	if len(ev.Request.PostDataEntries) > 0 {
		var sb strings.Builder
		for _, entry := range ev.Request.PostDataEntries {
			if entry == nil {
				continue
			}
			decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
			if err != nil {
				sb.WriteString(entry.Bytes)
				continue
			}
			sb.Write(decoded)
		}
		return sb.String()
	}
	if ev.NetworkID == "" {
		return ""
	}
	cctx, cancel := m.commandContext(ctx)
	data, err := m.browser.RequestPostData(cctx, network.RequestID(ev.NetworkID))
	cancel()
	if err != nil {
		m.sink.Debug("Failed to get post data for %s: %v", ev.Request.URL, err)
		return ""
	}
	return data
}

func (m *Monitor) origin(id runtime.ExecutionContextID) string {
	if origin, ok := m.contexts[id]; ok && origin != "" {
		return origin
	}
	return unknownOrigin
}

func (m *Monitor) consoleURL(ev *runtime.EventConsoleAPICalled) string {
	if ev.StackTrace != nil {
		for _, frame := range ev.StackTrace.CallFrames {
			if frame != nil && frame.URL != "" {
				return frame.URL
			}
		}
	}
	return m.origin(ev.ExecutionContextID)
}

// headerMap flattens protocol headers to strings.
func headerMap(h network.Headers) map[string]string {
	out := make(map[string]string, len(h))
	for name, value := range h {
		switch v := value.(type) {
		case string:
			out[name] = v
		default:
			out[name] = fmt.Sprint(v)
		}
	}
	return out
}

// entryMap folds repeated response headers into one comma separated value.
func entryMap(entries []*fetch.HeaderEntry) map[string]string {
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		if prev, ok := out[entry.Name]; ok {
			out[entry.Name] = prev + ", " + entry.Value
			continue
		}
		out[entry.Name] = entry.Value
	}
	return out
}

func resourceTypeName(rt network.ResourceType) string {
	return strings.ToLower(string(rt))
}
