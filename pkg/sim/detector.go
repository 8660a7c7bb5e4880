// Package sim wires soft signals into a runnable detector: arming it
// produces frame files on disk and drives the counters a capture writer
// observes, so the whole stack runs without hardware.
//
// The detector-state point is a terminal-state register: it reports how
// the last acquisition ended (Idle, Aborted, Error). Whether the device
// is currently acquiring is visible on the acquire point itself.
package sim

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"detector-capture/pkg/detector"
	"detector-capture/pkg/signal"
	soft "detector-capture/pkg/signal/sim"
	"detector-capture/pkg/utils"
)

const defaultPeriod = 10 * time.Millisecond

// Detector is a simulated area detector with a driver and one file
// plugin, all backed by soft signals. Write processing happens on the
// signals' on-put hooks, so side effects (directory creation, counter
// reset, acquisition start) are in place before the writes acknowledge,
// the way record processing behaves on the real transport.
type Detector struct {
	Name   string
	Driver *detector.DriverIO
	File   *detector.FileIO

	acquire     *soft.Signal[bool]
	state       *soft.Signal[detector.State]
	capture     *soft.Signal[bool]
	filePath    *soft.Signal[string]
	pathExists  *soft.Signal[bool]
	createDepth *soft.Signal[int]
	numCaptured *soft.Signal[int]

	frame        []byte
	bytesWritten atomic.Int64

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.SugaredLogger
}

// NewDetector builds the signal set for one simulated detector and
// pre-encodes the JPEG frame it will write.
func NewDetector(name string, width, height int) (*Detector, error) {
	frame, err := encodeFrame(width, height)
	if err != nil {
		return nil, fmt.Errorf("encode sim frame: %w", err)
	}

	d := &Detector{
		Name:        name,
		acquire:     soft.New(name+":cam:Acquire", false),
		state:       soft.New(name+":cam:DetectorState", detector.StateIdle),
		capture:     soft.New(name+":file:Capture", false),
		filePath:    soft.New(name+":file:FilePath", ""),
		pathExists:  soft.New(name+":file:FilePathExists", false),
		createDepth: soft.New(name+":file:CreateDirectory", 0),
		numCaptured: soft.New(name+":file:NumCaptured", 0),
		frame:       frame,
		logger:      utils.GetLogger(),
	}
	d.Driver = &detector.DriverIO{
		Acquire:       d.acquire,
		AcquireTime:   soft.New(name+":cam:AcquireTime", 0.0),
		AcquirePeriod: soft.New(name+":cam:AcquirePeriod", 0.0),
		NumImages:     soft.New(name+":cam:NumImages", 0),
		ImageMode:     soft.New(name+":cam:ImageMode", detector.ImageModeSingle),
		DetectorState: d.state,
	}
	d.File = &detector.FileIO{
		EnableCallbacks: soft.New(name+":file:EnableCallbacks", false),
		CreateDirectory: d.createDepth,
		FilePath:        d.filePath,
		FileName:        soft.New(name+":file:FileName", ""),
		FileTemplate:    soft.New(name+":file:FileTemplate", ""),
		FileWriteMode:   soft.New(name+":file:FileWriteMode", detector.WriteModeSingle),
		AutoIncrement:   soft.New(name+":file:AutoIncrement", false),
		FilePathExists:  d.pathExists,
		NumCapture:      soft.New(name+":file:NumCapture", 0),
		Capture:         d.capture,
		NumCaptured:     d.numCaptured,
	}

	d.filePath.OnPut(d.onFilePath)
	d.capture.OnPut(d.onCapture)
	d.acquire.OnPut(d.onAcquire)
	return d, nil
}

// Start arms the device loops; Stop (or ctx cancellation) ends any
// in-flight acquisition.
func (d *Detector) Start(ctx context.Context) error {
	d.runCtx, d.cancel = context.WithCancel(ctx)
	return nil
}

func (d *Detector) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// BytesWritten reports the total frame bytes committed to disk.
func (d *Detector) BytesWritten() int64 {
	return d.bytesWritten.Load()
}

// onFilePath performs the plugin's directory-creation side effect when
// the path field processes. The directory is only created when a
// creation depth has been configured beforehand; otherwise the path
// must already exist.
func (d *Detector) onFilePath(dir string) {
	exists := false
	if dir != "" {
		depth, _ := d.createDepth.Get(context.Background())
		if depth != 0 {
			if err := os.MkdirAll(dir, 0770); err != nil {
				d.logger.Errorf("sim detector %s create dir %s: %s", d.Name, dir, err)
			}
		}
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			exists = true
		}
	}
	_, _ = d.pathExists.Put(context.Background(), exists, signal.DefaultTimeout)
}

// onCapture resets the frame counter on the rising edge.
func (d *Detector) onCapture(capturing bool) {
	if capturing {
		_, _ = d.numCaptured.Put(context.Background(), 0, signal.DefaultTimeout)
	}
}

// onAcquire starts one acquisition run on the rising edge.
func (d *Detector) onAcquire(armed bool) {
	if !armed || d.runCtx == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.acquisition(d.runCtx)
	}()
}

// acquisition runs one armed acquisition to completion, writing a frame
// file per period while capture is enabled.
func (d *Detector) acquisition(ctx context.Context) {
	total, err := d.Driver.NumImages.Get(ctx)
	if err != nil {
		d.fail(err)
		return
	}
	periodSec, err := d.Driver.AcquirePeriod.Get(ctx)
	if err != nil {
		d.fail(err)
		return
	}
	period := time.Duration(periodSec * float64(time.Second))
	if period <= 0 {
		period = defaultPeriod
	}

	tick := time.NewTicker(period)
	defer tick.Stop()

	for taken := 0; taken < total; taken++ {
		select {
		case <-ctx.Done():
			d.finish(detector.StateAborted)
			return
		case <-tick.C:
		}
		armed, err := d.acquire.Get(ctx)
		if err != nil || !armed {
			// disarmed mid-run
			d.finish(detector.StateAborted)
			return
		}
		capturing, err := d.capture.Get(ctx)
		if err != nil {
			d.fail(err)
			return
		}
		if capturing {
			if err := d.commitFrame(ctx); err != nil {
				d.fail(err)
				return
			}
		}
	}
	d.finish(detector.StateIdle)
}

// commitFrame writes the next frame file per the plugin's template and
// bumps the captured counter.
func (d *Detector) commitFrame(ctx context.Context) error {
	limit, err := d.File.NumCapture.Get(ctx)
	if err != nil {
		return err
	}
	n, err := d.numCaptured.Get(ctx)
	if err != nil {
		return err
	}
	if limit > 0 && n >= limit {
		return nil
	}

	dir, err := d.filePath.Get(ctx)
	if err != nil {
		return err
	}
	name, err := d.File.FileName.Get(ctx)
	if err != nil {
		return err
	}
	tmpl, err := d.File.FileTemplate.Get(ctx)
	if err != nil {
		return err
	}
	if tmpl == "" {
		tmpl = "%s%s_%06d.jpg"
	}

	file := fmt.Sprintf(tmpl, dir+string(os.PathSeparator), name, n)
	if err := os.WriteFile(file, d.frame, 0660); err != nil {
		return err
	}
	d.bytesWritten.Add(int64(len(d.frame)))
	_, err = d.numCaptured.Put(ctx, n+1, signal.DefaultTimeout)
	return err
}

func (d *Detector) finish(terminal detector.State) {
	ctx := context.Background()
	_, _ = d.state.Put(ctx, terminal, signal.DefaultTimeout)
	_, _ = d.acquire.Put(ctx, false, signal.DefaultTimeout)
	d.logger.Infof("sim detector %s finished acquisition: %s", d.Name, terminal)
}

func (d *Detector) fail(err error) {
	d.logger.Errorf("sim detector %s acquisition failed: %s", d.Name, err)
	d.finish(detector.StateError)
}

// encodeFrame renders a small gradient pattern once; every committed
// frame reuses the same bytes.
func encodeFrame(width, height int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / width),
				G: uint8(y * 255 / height),
				B: uint8((x + y) * 255 / (width + height)),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
