package monitor

// Record prefixes written to the traffic log.
const (
	PrefixRequest        = "🔍 Detected request:"
	PrefixResponse       = "✅ Received response:"
	PrefixWorkerRequest  = "🤖 Detected Service Worker request:"
	PrefixWorkerResponse = "🤖 Received Service Worker response:"
	PrefixCapture        = "🎯 Found new sources value to monitor:"

	PrefixFoundRequest    = "🔍 Found sources value in request:"
	PrefixFoundScript     = "🔍 Found sources value usage:"
	PrefixFoundConsole    = "🔍 Found sources value in console:"
	PrefixFoundEval       = "🔍 Found sources value in evaluation:"
	PrefixFoundWSSent     = "📡 Found sources value in WebSocket message (sent):"
	PrefixFoundWSReceived = "📡 Found sources value in WebSocket message (received):"
	PrefixFoundWorker     = "🔧 Found sources value in updated Service Worker:"
)

const (
	previewLength = 100 // payload and post data previews
	valuePreview  = 50  // captured secret preview
	contextRadius = 100 // characters around a match
	inlineScript  = "inline script"
	unknownOrigin = "unknown"
	evaluationURL = "eval"
)

// State is the orchestrator lifecycle.
type State int32

const (
	StateIdle State = iota
	StateMonitoring
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMonitoring:
		return "monitoring"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// probeRequest asks the event loop to run the evaluation probe.
type probeRequest struct{}

// Page-side retrievals run off the loop because they can trigger
// intercepted requests that only the loop resumes. Their outcome comes
// back through the queue as one of these.
type (
	probeResult struct {
		value string
		err   error
	}

	workerScriptResult struct {
		scriptURL string
		status    string
		source    string
		err       error
	}
)
