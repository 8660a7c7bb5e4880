package writer_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detector-capture/pkg/detector"
	"detector-capture/pkg/providers"
	"detector-capture/pkg/signal/sim"
	"detector-capture/pkg/stream"
	"detector-capture/pkg/writer"
)

type testFileIO struct {
	enableCallbacks *sim.Signal[bool]
	createDirectory *sim.Signal[int]
	filePath        *sim.Signal[string]
	fileName        *sim.Signal[string]
	fileTemplate    *sim.Signal[string]
	fileWriteMode   *sim.Signal[detector.WriteMode]
	autoIncrement   *sim.Signal[bool]
	filePathExists  *sim.Signal[bool]
	numCapture      *sim.Signal[int]
	capture         *sim.Signal[bool]
	numCaptured     *sim.Signal[int]
	io              *detector.FileIO
}

func newTestFileIO(pathExists bool) *testFileIO {
	f := &testFileIO{
		enableCallbacks: sim.New("TST:file:EnableCallbacks", false),
		createDirectory: sim.New("TST:file:CreateDirectory", 0),
		filePath:        sim.New("TST:file:FilePath", ""),
		fileName:        sim.New("TST:file:FileName", ""),
		fileTemplate:    sim.New("TST:file:FileTemplate", ""),
		fileWriteMode:   sim.New("TST:file:FileWriteMode", detector.WriteModeSingle),
		autoIncrement:   sim.New("TST:file:AutoIncrement", false),
		filePathExists:  sim.New("TST:file:FilePathExists", pathExists),
		numCapture:      sim.New("TST:file:NumCapture", -1),
		capture:         sim.New("TST:file:Capture", false),
		numCaptured:     sim.New("TST:file:NumCaptured", 0),
	}
	f.io = &detector.FileIO{
		EnableCallbacks: f.enableCallbacks,
		CreateDirectory: f.createDirectory,
		FilePath:        f.filePath,
		FileName:        f.fileName,
		FileTemplate:    f.fileTemplate,
		FileWriteMode:   f.fileWriteMode,
		AutoIncrement:   f.autoIncrement,
		FilePathExists:  f.filePathExists,
		NumCapture:      f.numCapture,
		Capture:         f.capture,
		NumCaptured:     f.numCaptured,
	}
	return f
}

type fixedPathProvider struct {
	info providers.PathInfo
}

func (p *fixedPathProvider) PathInfo(string) providers.PathInfo { return p.info }

func newTestWriter(fio *testFileIO) *writer.CaptureWriter {
	return writer.NewJPEGWriter(
		fio.io,
		&fixedPathProvider{info: providers.PathInfo{
			DirectoryPath:  "/data/visit1",
			Filename:       "scan42",
			CreateDirDepth: 2,
		}},
		func() string { return "det" },
		&providers.StaticDescriber{FrameShape: []int{240, 320}, Datatype: "|u1"},
	)
}

func TestOpenConfiguresFilePlugin(t *testing.T) {
	ctx := context.Background()
	fio := newTestFileIO(true)
	w := newTestWriter(fio)

	keys, err := w.Open(ctx, 1)
	require.NoError(t, err)

	require.Contains(t, keys, "det")
	key := keys["det"]
	assert.Equal(t, "det", key.Source)
	assert.Equal(t, []int{240, 320}, key.Shape)
	assert.Equal(t, "array", key.Dtype)
	assert.Equal(t, "|u1", key.DtypeNumpy)
	assert.Equal(t, "STREAM:", key.External)

	get := func(s *sim.Signal[string]) string {
		v, err := s.Get(ctx)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, "/data/visit1", get(fio.filePath))
	assert.Equal(t, "scan42", get(fio.fileName))
	assert.Equal(t, "%s%s_%06d.jpg", get(fio.fileTemplate))

	depth, err := fio.createDirectory.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	mode, err := fio.fileWriteMode.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, detector.WriteModeStream, mode)

	// unbounded capture, started
	limit, err := fio.numCapture.Get(ctx)
	require.NoError(t, err)
	assert.Zero(t, limit)
	capturing, err := fio.capture.Get(ctx)
	require.NoError(t, err)
	assert.True(t, capturing)
}

func TestOpenFailsWhenPathMissing(t *testing.T) {
	fio := newTestFileIO(false)
	w := newTestWriter(fio)

	_, err := w.Open(context.Background(), 1)
	var notFound *writer.PathNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "/data/visit1", notFound.Path)

	// capture must not have been started
	capturing, gerr := fio.capture.Get(context.Background())
	require.NoError(t, gerr)
	assert.False(t, capturing)
}

func TestCollectStreamDocsNothingAtZero(t *testing.T) {
	ctx := context.Background()
	w := newTestWriter(newTestFileIO(true))
	_, err := w.Open(ctx, 1)
	require.NoError(t, err)

	assets, err := w.CollectStreamDocs(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, assets)
}

func TestCollectStreamDocsEmitsResourceOnceAndRanges(t *testing.T) {
	ctx := context.Background()
	w := newTestWriter(newTestFileIO(true))
	_, err := w.Open(ctx, 1)
	require.NoError(t, err)

	assets, err := w.CollectStreamDocs(ctx, 3)
	require.NoError(t, err)
	require.Len(t, assets, 2)

	require.Equal(t, stream.KindResource, assets[0].Kind)
	res := assets[0].Doc.(stream.ResourceDoc)
	assert.Equal(t, "det", res.DataKey)
	assert.Equal(t, "multipart/related;type=image/jpeg", res.Mimetype)
	assert.Equal(t, "file://localhost/data/visit1/", res.URI)
	assert.Equal(t, []int{1, 240, 320}, res.Parameters.ChunkShape)
	assert.Equal(t, "scan42_{:06d}.jpg", res.Parameters.Template)
	assert.NotEmpty(t, res.UID)

	require.Equal(t, stream.KindDatum, assets[1].Kind)
	datum := assets[1].Doc.(stream.DatumDoc)
	assert.Equal(t, res.UID, datum.StreamResource)
	assert.Equal(t, stream.Range{Start: 0, Stop: 3}, datum.Indices)

	// same index again: nothing owed
	assets, err = w.CollectStreamDocs(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, assets)

	// advance: one datum, no new resource
	assets, err = w.CollectStreamDocs(ctx, 5)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	datum = assets[0].Doc.(stream.DatumDoc)
	assert.Equal(t, stream.Range{Start: 3, Stop: 5}, datum.Indices)
}

func TestOpenResetsSessionState(t *testing.T) {
	ctx := context.Background()
	w := newTestWriter(newTestFileIO(true))
	_, err := w.Open(ctx, 1)
	require.NoError(t, err)

	assets, err := w.CollectStreamDocs(ctx, 4)
	require.NoError(t, err)
	require.Len(t, assets, 2)
	firstUID := assets[0].Doc.(stream.ResourceDoc).UID

	require.NoError(t, w.Close(ctx))
	_, err = w.Open(ctx, 1)
	require.NoError(t, err)

	assets, err = w.CollectStreamDocs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, assets, 2)
	res := assets[0].Doc.(stream.ResourceDoc)
	assert.NotEqual(t, firstUID, res.UID)
	datum := assets[1].Doc.(stream.DatumDoc)
	assert.Equal(t, stream.Range{Start: 0, Stop: 2}, datum.Indices)
}

func TestGetIndicesWrittenAppliesMultiplier(t *testing.T) {
	ctx := context.Background()
	for _, multiplier := range []int{1, 2, 4} {
		for _, raw := range []int{0, 1, 3, 7, 8} {
			fio := newTestFileIO(true)
			w := newTestWriter(fio)
			_, err := w.Open(ctx, multiplier)
			require.NoError(t, err)

			_, err = fio.numCaptured.Put(ctx, raw, time.Second)
			require.NoError(t, err)

			got, err := w.GetIndicesWritten(ctx)
			require.NoError(t, err)
			assert.Equal(t, raw/multiplier, got, fmt.Sprintf("multiplier=%d raw=%d", multiplier, raw))
		}
	}
}

func TestObserveAndCollectEndToEnd(t *testing.T) {
	ctx := context.Background()
	fio := newTestFileIO(true)
	w := newTestWriter(fio)
	_, err := w.Open(ctx, 1)
	require.NoError(t, err)

	watch, err := w.ObserveIndicesWritten(ctx, time.Second)
	require.NoError(t, err)
	defer watch.Stop()

	var indices []int
	var ranges []stream.Range
	for i, raw := range []int{0, 2, 5} {
		if i > 0 {
			_, err = fio.numCaptured.Put(ctx, raw, time.Second)
			require.NoError(t, err)
		}
		idx, err := watch.Next(ctx)
		require.NoError(t, err)
		indices = append(indices, idx)

		assets, err := w.CollectStreamDocs(ctx, idx)
		require.NoError(t, err)
		for _, a := range assets {
			if a.Kind == stream.KindDatum {
				ranges = append(ranges, a.Doc.(stream.DatumDoc).Indices)
			}
		}
	}

	assert.Equal(t, []int{0, 2, 5}, indices)
	assert.Equal(t, []stream.Range{{Start: 0, Stop: 2}, {Start: 2, Stop: 5}}, ranges)
}

// Concurrent collectors must still see exactly one resource and
// non-overlapping datum ranges.
func TestCollectStreamDocsConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	w := newTestWriter(newTestFileIO(true))
	_, err := w.Open(ctx, 1)
	require.NoError(t, err)

	results := make(chan []stream.Asset, 2)
	for i := 0; i < 2; i++ {
		go func() {
			assets, err := w.CollectStreamDocs(ctx, 3)
			assert.NoError(t, err)
			results <- assets
		}()
	}

	resources := 0
	var ranges []stream.Range
	for i := 0; i < 2; i++ {
		for _, a := range <-results {
			switch a.Kind {
			case stream.KindResource:
				resources++
			case stream.KindDatum:
				ranges = append(ranges, a.Doc.(stream.DatumDoc).Indices)
			}
		}
	}
	assert.Equal(t, 1, resources)
	require.Len(t, ranges, 1)
	assert.Equal(t, stream.Range{Start: 0, Stop: 3}, ranges[0])
}

func TestCloseStopsCaptureAndAwaitsSession(t *testing.T) {
	ctx := context.Background()
	fio := newTestFileIO(true)
	w := newTestWriter(fio)
	_, err := w.Open(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, w.Close(ctx))
	capturing, err := fio.capture.Get(ctx)
	require.NoError(t, err)
	assert.False(t, capturing)

	// the capture point's settle registration must have been released
	assert.False(t, fio.capture.SettlePending())
}

func TestHints(t *testing.T) {
	w := newTestWriter(newTestFileIO(true))
	assert.Equal(t, writer.Hints{Fields: []string{"det"}}, w.Hints())
}
