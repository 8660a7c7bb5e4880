// Package providers supplies path, name and dataset-shape information
// to capture writers. Writers only see the interfaces; orchestrators
// decide the concrete policy.
package providers

import (
	"context"

	"github.com/google/uuid"
)

// PathInfo tells a writer where one capture session should land.
type PathInfo struct {
	DirectoryPath  string
	Filename       string
	CreateDirDepth int
}

// PathProvider resolves the destination for a named device.
type PathProvider interface {
	PathInfo(deviceName string) PathInfo
}

// NameProvider returns the data key / stream name for a device.
type NameProvider func() string

// DatasetDescriber reports the shape and numpy dtype of one frame.
type DatasetDescriber interface {
	Shape(ctx context.Context) ([]int, error)
	NpDatatype(ctx context.Context) (string, error)
}

// StaticPathProvider hands out the same directory for every device with
// a fresh UUID filename per session.
type StaticPathProvider struct {
	Root  string
	Depth int
}

func NewStaticPathProvider(root string, createDirDepth int) *StaticPathProvider {
	return &StaticPathProvider{Root: root, Depth: createDirDepth}
}

func (p *StaticPathProvider) PathInfo(deviceName string) PathInfo {
	return PathInfo{
		DirectoryPath:  p.Root,
		Filename:       uuid.NewString(),
		CreateDirDepth: p.Depth,
	}
}

// StaticDescriber describes a fixed frame shape and dtype.
type StaticDescriber struct {
	FrameShape []int
	Datatype   string
}

func (d *StaticDescriber) Shape(ctx context.Context) ([]int, error) {
	return d.FrameShape, nil
}

func (d *StaticDescriber) NpDatatype(ctx context.Context) (string, error) {
	return d.Datatype, nil
}
