package detector

import "detector-capture/pkg/signal"

// DriverIO bundles the driver control points the controller talks to.
type DriverIO struct {
	Acquire       signal.Signal[bool]
	AcquireTime   signal.Signal[float64]
	AcquirePeriod signal.Signal[float64]
	NumImages     signal.Signal[int]
	ImageMode     signal.Signal[ImageMode]
	DetectorState signal.Signal[State]
}

// FileIO bundles the file plugin control points the capture writer
// talks to.
type FileIO struct {
	EnableCallbacks signal.Signal[bool]
	CreateDirectory signal.Signal[int]
	FilePath        signal.Signal[string]
	FileName        signal.Signal[string]
	FileTemplate    signal.Signal[string]
	FileWriteMode   signal.Signal[WriteMode]
	AutoIncrement   signal.Signal[bool]
	FilePathExists  signal.Signal[bool]
	NumCapture      signal.Signal[int]
	Capture         signal.Signal[bool]
	NumCaptured     signal.Signal[int]
}
