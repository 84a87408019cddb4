package pipeline

// ConnState is the transport connection state of a live run.
//
// Transitions are driven solely by transport success and failure; the
// simulation never leaves ConnConnected once running.
type ConnState string

const (
	ConnDisconnected ConnState = "disconnected"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
)
