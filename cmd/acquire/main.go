// One-shot acquisition against the simulated detector: prepare, open a
// session, arm, follow the written indices, print the emitted documents
// and tear down. Useful for eyeballing the document flow without the
// daemon.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/goccy/go-json"

	"detector-capture/pkg/detector"
	"detector-capture/pkg/providers"
	"detector-capture/pkg/sim"
	"detector-capture/pkg/signal"
	"detector-capture/pkg/utils"
	"detector-capture/pkg/writer"
)

var (
	frames   = flag.Int("frames", 5, "number of frames to acquire")
	exposure = flag.Duration("exposure", 20*time.Millisecond, "exposure time")
	dir      = flag.String("dir", "./detector-data", "capture directory")
)

func main() {
	flag.Parse()
	logger := utils.GetLogger()
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dev, err := sim.NewDetector("SIM1", 320, 240)
	if err != nil {
		logger.Fatal(err)
	}
	if err := dev.Start(ctx); err != nil {
		logger.Fatal(err)
	}
	defer dev.Stop()

	ctl := detector.NewController(dev.Driver)
	wrt := writer.NewJPEGWriter(
		dev.File,
		providers.NewStaticPathProvider(*dir, 1),
		func() string { return "SIM1" },
		&providers.StaticDescriber{FrameShape: []int{240, 320}, Datatype: "|u1"},
	)

	if err := ctl.SetExposureTimeAndAcquirePeriod(ctx, *exposure, signal.DefaultTimeout); err != nil {
		logger.Fatal(err)
	}
	if err := ctl.Prepare(ctx, detector.TriggerSpec{Kind: detector.TriggerInternal, TotalTriggers: *frames}); err != nil {
		logger.Fatal(err)
	}

	keys, err := wrt.Open(ctx, 1)
	if err != nil {
		logger.Fatal(err)
	}
	logger.Infof("descriptor keys: %v", keys)

	if err := ctl.Arm(ctx); err != nil {
		logger.Fatal(err)
	}

	enc := json.NewEncoder(os.Stdout)
	watch, err := wrt.ObserveIndicesWritten(ctx, signal.DefaultTimeout)
	if err != nil {
		logger.Fatal(err)
	}
	defer watch.Stop()
	for {
		idx, err := watch.Next(ctx)
		if err != nil {
			logger.Fatal(err)
		}
		assets, err := wrt.CollectStreamDocs(ctx, idx)
		if err != nil {
			logger.Fatal(err)
		}
		for _, a := range assets {
			if err := enc.Encode(map[string]any{"kind": a.Kind, "doc": a.Doc}); err != nil {
				logger.Fatal(err)
			}
		}
		if idx >= *frames {
			break
		}
	}

	if err := ctl.WaitForIdle(ctx); err != nil {
		logger.Fatal(err)
	}
	if err := wrt.Close(ctx); err != nil {
		logger.Fatal(err)
	}
	if err := ctl.Disarm(ctx); err != nil {
		logger.Fatal(err)
	}
	logger.Infof("acquired %d frames into %s", *frames, *dir)
}
