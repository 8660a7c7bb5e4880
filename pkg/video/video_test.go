package video_test

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detector-capture/pkg/video"
)

func writeFrames(t *testing.T, dir, prefix string, n int) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 32, 24))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	for i := 0; i < n; i++ {
		file := filepath.Join(dir, fmt.Sprintf("%s_%06d.jpg", prefix, i))
		require.NoError(t, os.WriteFile(file, buf.Bytes(), 0644))
	}
}

func TestAddSession(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, "scan", 5)

	out := filepath.Join(t.TempDir(), "out.avi")
	b, err := video.NewBuilder(out, 32, 24, 10)
	require.NoError(t, err)

	require.NoError(t, b.AddSession(dir, "scan", ".jpg"))
	assert.Equal(t, 5, b.GetCnt())
	require.NoError(t, b.Close())

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestAddSessionStopsAtGap(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, "scan", 3)
	// frame 4 present but 3 missing: the walk must stop at the gap
	require.NoError(t, os.Rename(
		filepath.Join(dir, "scan_000002.jpg"),
		filepath.Join(dir, "scan_000004.jpg"),
	))

	out := filepath.Join(t.TempDir(), "out.avi")
	b, err := video.NewBuilder(out, 32, 24, 10)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.AddSession(dir, "scan", ".jpg"))
	assert.Equal(t, 2, b.GetCnt())
}
