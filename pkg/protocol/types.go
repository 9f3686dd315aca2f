package protocol

// Kind classifies an inbound event for routing.
type Kind string

const (
	KindLocation Kind = "location"
	KindTransfer Kind = "transfer"
	KindOther    Kind = "other"
)

// Event names published by the tracker firmware.
const (
	DefaultLocationEventName = "loc"
	DefaultTransferEventName = "camera"
)

// Operation constants for transfer frames and control commands.
const (
	OpStart   = "start"
	OpChunk   = "chunk"
	OpRestart = "restart"
	OpResend  = "resend"
	OpDone    = "done"
)
