package core

// FlowStreamStatus tracks whether node output may still be emitted incrementally.
type FlowStreamStatus int

const (
	StreamPending FlowStreamStatus = iota
	StreamProcessing
	StreamFinished
	StreamFailed
)

func (s FlowStreamStatus) String() string {
	switch s {
	case StreamPending:
		return "pending"
	case StreamProcessing:
		return "processing"
	case StreamFinished:
		return "finished"
	case StreamFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are allowed.
func (s FlowStreamStatus) Terminal() bool { return s == StreamFinished || s == StreamFailed }

// DefaultStreamVersion is the stream protocol version used when none is given.
const DefaultStreamVersion = "v0"
