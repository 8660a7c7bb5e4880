// Package detector holds the driver-side control points of an area
// detector and the acquisition controller that arms and disarms it.
package detector

// State is the detector's reported state machine value.
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateAborted
	StateError
	StateDisconnected
	StateWaiting
	StateAborting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAcquiring:
		return "Acquiring"
	case StateAborted:
		return "Aborted"
	case StateError:
		return "Error"
	case StateDisconnected:
		return "Disconnected"
	case StateWaiting:
		return "Waiting"
	case StateAborting:
		return "Aborting"
	default:
		return "Unknown"
	}
}

// ImageMode selects how many frames one acquisition produces.
type ImageMode int

const (
	ImageModeSingle ImageMode = iota
	ImageModeMultiple
	ImageModeContinuous
)

// WriteMode selects how the file plugin commits frames.
type WriteMode int

const (
	WriteModeSingle WriteMode = iota
	WriteModeCapture
	WriteModeStream
)

// TriggerKind distinguishes software-internal from hardware triggering.
type TriggerKind int

const (
	TriggerInternal TriggerKind = iota
	TriggerExternal
)

func (k TriggerKind) String() string {
	if k == TriggerInternal {
		return "internal"
	}
	return "external"
}

// TriggerSpec is supplied once per prepare call.
type TriggerSpec struct {
	Kind          TriggerKind
	TotalTriggers int
}
