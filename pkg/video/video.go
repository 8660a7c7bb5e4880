// Package video assembles the JPEG frame files of one capture session
// into an AVI preview.
package video

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/icza/mjpeg"
)

type Builder struct {
	width  int
	height int
	fps    int

	cnt int
	aw  mjpeg.AviWriter
}

func NewBuilder(path string, width, height, fps int) (*Builder, error) {
	aw, err := mjpeg.New(path, int32(width), int32(height), int32(fps))
	if err != nil {
		return nil, err
	}

	return &Builder{
		width:  width,
		height: height,
		fps:    fps,
		aw:     aw,
	}, nil
}

func (b *Builder) Add(frame []byte) error {
	err := b.aw.AddFrame(frame)
	if err != nil {
		return err
	}
	b.cnt++

	return nil
}

// AddSession appends a capture session's frames in index order: files
// named prefix_000000.ext, prefix_000001.ext, ... under dir, stopping
// at the first gap.
func (b *Builder) AddSession(dir, prefix, ext string) error {
	for i := 0; ; i++ {
		file := filepath.Join(dir, fmt.Sprintf("%s_%06d%s", prefix, i, ext))
		frame, err := os.ReadFile(file)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := b.Add(frame); err != nil {
			return err
		}
	}
}

func (b *Builder) Close() error {
	return b.aw.Close()
}

func (b *Builder) GetCnt() int {
	return b.cnt
}
