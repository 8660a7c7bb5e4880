// Package ov holds the daemon API's request and response bodies.
package ov

import (
	"detector-capture/pkg/utils/ps"
)

type PrepareRequest struct {
	// Frames is the total number of software triggers to acquire.
	Frames int `json:"frames" binding:"required"`
	// Exposure in seconds; zero leaves the device's exposure untouched.
	Exposure float64 `json:"exposure"`
	// External requests hardware triggering; always rejected.
	External bool `json:"external"`
}

type OpenSessionRequest struct {
	Multiplier int `json:"multiplier"`
}

type Status struct {
	Detector       string `json:"detector"`
	State          string `json:"state"`
	Acquiring      bool   `json:"acquiring"`
	Capturing      bool   `json:"capturing"`
	IndicesWritten int    `json:"indicesWritten"`
	BytesWritten   string `json:"bytesWritten"`

	CPU      ps.CPU      `json:"cpu"`
	Memory   ps.Memory   `json:"memory"`
	DataDisk ps.DataDisk `json:"dataDisk"`
}

type VideoRequest struct {
	FPS int `json:"fps"`
}
