package app

// StopReason records why the app is shutting down; it only affects logging.
type StopReason string

const (
	StopReasonSignal StopReason = "signal"
	StopReasonFatal  StopReason = "fatal"
)
