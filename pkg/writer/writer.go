// Package writer runs capture sessions on a detector file plugin:
// directory and filename configuration, frame index observation, and
// incremental stream document emission.
package writer

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"detector-capture/pkg/detector"
	"detector-capture/pkg/providers"
	"detector-capture/pkg/signal"
	"detector-capture/pkg/stream"
	"detector-capture/pkg/utils"
)

// deviceTemplate is the file plugin's own name pattern: path, filename,
// zero-padded frame number.
const deviceTemplate = "%s%s_%06d"

// PathNotFoundError reports that the configured capture directory does
// not exist on the remote side.
type PathNotFoundError struct {
	Path string
}

func (e *PathNotFoundError) Error() string {
	return fmt.Sprintf("file path %s for file plugin does not exist", e.Path)
}

// CaptureWriter owns one capture session at a time: its destination
// configuration, the session's emitted resource, and the last emitted
// frame index. Open resets all session state. Session state is guarded
// by a mutex so methods may be called from concurrent request handlers.
type CaptureWriter struct {
	fileio       *detector.FileIO
	pathProvider providers.PathProvider
	nameProvider providers.NameProvider
	describer    providers.DatasetDescriber

	ext      string
	mimetype string

	mu            sync.Mutex
	multiplier    int
	lastEmitted   int
	resource      *stream.Resource
	captureStatus *signal.Completion

	logger *zap.SugaredLogger
}

type Option func(*CaptureWriter)

// WithFileFormat overrides the file extension and mimetype pair.
func WithFileFormat(extension, mimetype string) Option {
	return func(w *CaptureWriter) {
		w.ext = extension
		w.mimetype = mimetype
	}
}

func New(fileio *detector.FileIO, pathProvider providers.PathProvider, nameProvider providers.NameProvider, describer providers.DatasetDescriber, opts ...Option) *CaptureWriter {
	w := &CaptureWriter{
		fileio:       fileio,
		pathProvider: pathProvider,
		nameProvider: nameProvider,
		describer:    describer,
		ext:          ".tiff",
		mimetype:     "multipart/related;type=image/tiff",
		multiplier:   1,
		logger:       utils.GetLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NewJPEGWriter builds a writer for a JPEG file plugin.
func NewJPEGWriter(fileio *detector.FileIO, pathProvider providers.PathProvider, nameProvider providers.NameProvider, describer providers.DatasetDescriber) *CaptureWriter {
	return New(fileio, pathProvider, nameProvider, describer,
		WithFileFormat(".jpg", "multipart/related;type=image/jpeg"))
}

// NewTIFFWriter builds a writer for a TIFF file plugin.
func NewTIFFWriter(fileio *detector.FileIO, pathProvider providers.PathProvider, nameProvider providers.NameProvider, describer providers.DatasetDescriber) *CaptureWriter {
	return New(fileio, pathProvider, nameProvider, describer,
		WithFileFormat(".tiff", "multipart/related;type=image/tiff"))
}

// Open starts a capture session and returns the descriptor entry for
// the stream. multiplier divides raw written-frame counts into logical
// dataset indices.
func (w *CaptureWriter) Open(ctx context.Context, multiplier int) (map[string]stream.DataKey, error) {
	if multiplier < 1 {
		multiplier = 1
	}
	w.mu.Lock()
	w.multiplier = multiplier
	w.resource = nil
	w.lastEmitted = 0
	w.mu.Unlock()

	frameShape, err := w.describer.Shape(ctx)
	if err != nil {
		return nil, err
	}
	dtype, err := w.describer.NpDatatype(ctx)
	if err != nil {
		return nil, err
	}

	if err := w.beginCapture(ctx); err != nil {
		return nil, err
	}

	name := w.nameProvider()
	return map[string]stream.DataKey{
		name: {
			Source:     name,
			Shape:      frameShape,
			Dtype:      "array",
			DtypeNumpy: dtype,
			External:   "STREAM:",
		},
	}, nil
}

// beginCapture configures the file plugin for an unbounded session and
// kicks off capturing, stashing the settle handle on the capture point.
func (w *CaptureWriter) beginCapture(ctx context.Context) error {
	info := w.pathProvider.PathInfo(w.nameProvider())

	if err := signal.Set(ctx, w.fileio.EnableCallbacks, true, signal.DefaultTimeout); err != nil {
		return err
	}

	// Directory creation fires when the path field is processed, so the
	// creation depth has to be in place before the path write.
	if err := signal.Set(ctx, w.fileio.CreateDirectory, info.CreateDirDepth, signal.DefaultTimeout); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return signal.Set(gctx, w.fileio.FilePath, info.DirectoryPath, signal.DefaultTimeout)
	})
	g.Go(func() error {
		return signal.Set(gctx, w.fileio.FileName, info.Filename, signal.DefaultTimeout)
	})
	g.Go(func() error {
		return signal.Set(gctx, w.fileio.FileTemplate, deviceTemplate+w.ext, signal.DefaultTimeout)
	})
	g.Go(func() error {
		return signal.Set(gctx, w.fileio.FileWriteMode, detector.WriteModeStream, signal.DefaultTimeout)
	})
	g.Go(func() error {
		return signal.Set(gctx, w.fileio.AutoIncrement, true, signal.DefaultTimeout)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	exists, err := w.fileio.FilePathExists.Get(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return &PathNotFoundError{Path: info.DirectoryPath}
	}

	// Zero means capture forever; the session is closed explicitly.
	if err := signal.Set(ctx, w.fileio.NumCapture, 0, signal.DefaultTimeout); err != nil {
		return err
	}

	status, err := signal.SetAndWaitForValue(ctx, w.fileio.Capture, true, signal.DefaultTimeout, false)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.captureStatus = status
	w.mu.Unlock()
	w.logger.Infof("capture session started in %s as %s%s", info.DirectoryPath, info.Filename, w.ext)
	return nil
}

// IndexWatcher yields logical written indices as the raw frame counter
// changes. It never ends on its own; the consumer stops pulling or a
// pull times out.
type IndexWatcher struct {
	watcher    *signal.Watcher[int]
	multiplier int
}

func (iw *IndexWatcher) Next(ctx context.Context) (int, error) {
	n, err := iw.watcher.Next(ctx)
	if err != nil {
		return 0, err
	}
	return n / iw.multiplier, nil
}

func (iw *IndexWatcher) Stop() { iw.watcher.Stop() }

// ObserveIndicesWritten watches the raw captured-frame counter. timeout
// bounds the gap between successive updates, not the whole session.
func (w *CaptureWriter) ObserveIndicesWritten(ctx context.Context, timeout time.Duration) (*IndexWatcher, error) {
	watcher, err := signal.Observe(ctx, w.fileio.NumCaptured, timeout)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	multiplier := w.multiplier
	w.mu.Unlock()
	return &IndexWatcher{watcher: watcher, multiplier: multiplier}, nil
}

// GetIndicesWritten reads the logical written index once.
func (w *CaptureWriter) GetIndicesWritten(ctx context.Context) (int, error) {
	n, err := w.fileio.NumCaptured.Get(ctx)
	if err != nil {
		return 0, err
	}
	w.mu.Lock()
	multiplier := w.multiplier
	w.mu.Unlock()
	return n / multiplier, nil
}

// CollectStreamDocs returns the documents newly owed for the given
// written index: the session's resource exactly once, then a datum for
// each interval the index advanced past lastEmitted. Calling again with
// an unchanged index emits nothing. Concurrent calls are serialized so
// the resource is never emitted twice and ranges never overlap.
func (w *CaptureWriter) CollectStreamDocs(ctx context.Context, indicesWritten int) ([]stream.Asset, error) {
	if indicesWritten == 0 {
		return nil, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	var assets []stream.Asset
	if w.resource == nil {
		filePath, err := w.fileio.FilePath.Get(ctx)
		if err != nil {
			return nil, err
		}
		fileName, err := w.fileio.FileName.Get(ctx)
		if err != nil {
			return nil, err
		}
		frameShape, err := w.describer.Shape(ctx)
		if err != nil {
			return nil, err
		}

		abs, err := filepath.Abs(filePath)
		if err != nil {
			return nil, err
		}
		uri := (&url.URL{Scheme: "file", Host: "localhost", Path: abs + "/"}).String()

		w.resource = stream.ComposeResource(w.mimetype, uri, w.nameProvider(), stream.Parameters{
			ChunkShape: append([]int{1}, frameShape...),
			Template:   fileName + "_{:06d}" + w.ext,
		})
		assets = append(assets, stream.Asset{Kind: stream.KindResource, Doc: w.resource.Doc()})
	}

	// Indices are relative to the resource and never go backward.
	if indicesWritten > w.lastEmitted {
		datum := w.resource.ComposeDatum(stream.Range{Start: w.lastEmitted, Stop: indicesWritten})
		w.lastEmitted = indicesWritten
		assets = append(assets, stream.Asset{Kind: stream.KindDatum, Doc: datum})
	}
	return assets, nil
}

// Close stops capturing. The settle callback on the capture point is
// still held by beginCapture, so the false-write is fire-and-forget and
// the value is confirmed by polling; afterwards the original capture
// completion is awaited so it is not left pending.
func (w *CaptureWriter) Close(ctx context.Context) error {
	if _, err := w.fileio.Capture.Put(ctx, false, signal.DefaultTimeout); err != nil {
		return err
	}
	if err := signal.BusyWaitUntil(ctx, w.fileio.Capture, func(v bool) bool { return !v }, signal.DefaultTimeout); err != nil {
		return err
	}
	w.mu.Lock()
	status := w.captureStatus
	w.mu.Unlock()
	if status != nil {
		return status.Await(ctx)
	}
	return nil
}

// Hints names the stream's one relevant field.
type Hints struct {
	Fields []string `json:"fields"`
}

func (w *CaptureWriter) Hints() Hints {
	return Hints{Fields: []string{w.nameProvider()}}
}
