package codec

import "encoding/json"

// Methods understood by worker processes.
const (
	// MethodExecute runs the bundle's task entry point once.
	MethodExecute = "execute"
	// MethodExecuteAggregation runs the entry point in aggregation mode.
	MethodExecuteAggregation = "execute_aggregation"
	// MethodShutdown asks the worker to exit gracefully.
	MethodShutdown = "shutdown"
)

// ReadyID is the reserved request id of the unsolicited readiness frame a
// worker emits after entry-point discovery. Regular calls use ids >= 1.
const ReadyID = 0

// Request is one framed request to a worker.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one framed response from a worker.
type Response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the structured error payload of a failed response.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Error types carried in ResponseError.Type.
const (
	// ErrorTypeTask marks a failure inside the task itself; the worker
	// process remains healthy and reusable.
	ErrorTypeTask = "task"
	// ErrorTypeStartup marks an entry-point discovery failure.
	ErrorTypeStartup = "startup"
	// ErrorTypeProtocol marks a request the worker could not interpret.
	ErrorTypeProtocol = "protocol"
)

// ReadySignal is the result payload of the readiness frame. Status reports
// the entry-point discovery outcome; anything but "ready" is a fatal
// startup error.
type ReadySignal struct {
	Status     string `json:"status"`
	Code       string `json:"code,omitempty"`
	EntryPoint string `json:"entry_point,omitempty"`
	Message    string `json:"message,omitempty"`
}

// ReadySignal status values.
const (
	StatusReady = "ready"
	StatusError = "error"
)

// Machine-readable codes for failed readiness signals.
const (
	// ReadyCodeNotFound means the bundle registered no entry point.
	ReadyCodeNotFound = "entry_point_not_found"
	// ReadyCodeAmbiguous means the bundle registered more than one entry point.
	ReadyCodeAmbiguous = "entry_point_ambiguous"
)

// ExecutePayload is the params shape of execute and execute_aggregation
// requests. Inputs is only populated for aggregation calls.
type ExecutePayload struct {
	Params map[string]any    `json:"params,omitempty"`
	Seed   int64             `json:"seed"`
	Inputs []json.RawMessage `json:"inputs,omitempty"`
}

// ShutdownPayload is the params shape of shutdown requests.
type ShutdownPayload struct {
	GraceSeconds int `json:"grace_seconds"`
}
