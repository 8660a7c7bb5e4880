package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/vincent-vinf/go-jsend"
	"go.uber.org/zap"

	"detector-capture/pkg/detector"
	"detector-capture/pkg/ov"
	"detector-capture/pkg/providers"
	"detector-capture/pkg/sim"
	"detector-capture/pkg/signal"
	"detector-capture/pkg/stream"
	"detector-capture/pkg/utils"
	"detector-capture/pkg/utils/ps"
	"detector-capture/pkg/video"
	"detector-capture/pkg/webdav"
	"detector-capture/pkg/writer"
)

const (
	webDavStart    = "start"
	webDavShutdown = "shutdown"

	maxClockSkew = 500 * time.Millisecond
)

var (
	port         = flag.Int("port", 9999, "api port")
	webdavPort   = flag.Int("webdav-port", 9998, "webdav port")
	dataDir      = flag.String("dir", "./detector-data", "data root for capture sessions")
	detectorName = flag.String("detector", "SIM1", "detector name / signal prefix")
	frameWidth   = flag.Int("width", 320, "sim frame width")
	frameHeight  = flag.Int("height", 240, "sim frame height")
	ntpServer    = flag.String("ntp-server", "", "ntp server for the startup clock check, empty to skip")

	dev  *sim.Detector
	ctl  *detector.Controller
	wrt  *writer.CaptureWriter
	wdav *webdav.Webdav

	// one open session at a time
	sessionLock sync.Mutex
	sessionOpen bool
	sessionName string

	logger *zap.SugaredLogger
)

func init() {
	logger = utils.GetLogger()
}

func main() {
	flag.Parse()
	defer logger.Sync()

	if err := os.MkdirAll(*dataDir, 0770); err != nil {
		logger.Fatal(err)
	}
	checkClock()

	var err error
	dev, err = sim.NewDetector(*detectorName, *frameWidth, *frameHeight)
	if err != nil {
		logger.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := dev.Start(ctx); err != nil {
		logger.Fatal(err)
	}
	defer dev.Stop()

	nameProvider := providers.NameProvider(func() string { return *detectorName })
	ctl = detector.NewController(dev.Driver)
	wrt = writer.NewJPEGWriter(
		dev.File,
		providers.NewStaticPathProvider(*dataDir, 1),
		nameProvider,
		&providers.StaticDescriber{
			FrameShape: []int{*frameHeight, *frameWidth},
			Datatype:   "|u1",
		},
	)
	wdav = webdav.New(ctx, *webdavPort, *dataDir)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(utils.Cors())
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("page not found"))
	})

	apiRouter := r.Group("/api")
	apiRouter.GET("/status", getStatus)

	acqRouter := apiRouter.Group("/acquisition")
	acqRouter.POST("/prepare", prepareAcquisition)
	acqRouter.POST("/arm", armDetector)
	acqRouter.POST("/disarm", disarmDetector)
	acqRouter.POST("/wait", waitForIdle)

	sessionRouter := apiRouter.Group("/session")
	sessionRouter.POST("", openSession)
	sessionRouter.DELETE("", closeSession)
	sessionRouter.GET("/docs", collectDocs)
	sessionRouter.GET("/hints", getHints)
	sessionRouter.POST("/video", buildVideo)

	apiRouter.PUT("/webdav", ctlWebdav)

	utils.ListenAndServe(r, *port)
}

// checkClock logs the offset to the configured NTP server; emitted
// documents are timestamped downstream, so large skew is worth a loud
// warning at startup.
func checkClock() {
	if *ntpServer == "" {
		return
	}
	resp, err := ntp.Query(*ntpServer)
	if err != nil {
		logger.Warnf("ntp query %s failed: %s", *ntpServer, err)
		return
	}
	if off := resp.ClockOffset; off > maxClockSkew || off < -maxClockSkew {
		logger.Warnf("system clock is off by %s relative to %s", off, *ntpServer)
	} else {
		logger.Infof("clock offset %s relative to %s", resp.ClockOffset, *ntpServer)
	}
}

func prepareAcquisition(c *gin.Context) {
	var req ov.PrepareRequest
	if err := c.Bind(&req); err != nil {
		return
	}
	kind := detector.TriggerInternal
	if req.External {
		kind = detector.TriggerExternal
	}

	exposure := time.Duration(req.Exposure * float64(time.Second))
	if err := ctl.SetExposureTimeAndAcquirePeriod(c, exposure, signal.DefaultTimeout); err != nil {
		internalErr(c, err)
		return
	}
	err := ctl.Prepare(c, detector.TriggerSpec{Kind: kind, TotalTriggers: req.Frames})
	if errors.Is(err, detector.ErrUnsupportedTriggerMode) {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(req))
}

func armDetector(c *gin.Context) {
	if err := ctl.Arm(c); err != nil {
		internalErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(nil))
}

func disarmDetector(c *gin.Context) {
	if err := ctl.Disarm(c); err != nil {
		internalErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(nil))
}

func waitForIdle(c *gin.Context) {
	err := ctl.WaitForIdle(c)
	var bad *detector.BadTerminalStateError
	if errors.As(err, &bad) {
		c.JSON(http.StatusConflict, jsend.SimpleErr(bad.Error()))
		return
	}
	if err != nil {
		internalErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(nil))
}

func openSession(c *gin.Context) {
	var req ov.OpenSessionRequest
	if err := c.Bind(&req); err != nil {
		return
	}

	sessionLock.Lock()
	defer sessionLock.Unlock()
	if sessionOpen {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("a capture session is already open"))
		return
	}

	keys, err := wrt.Open(c, req.Multiplier)
	if err != nil {
		internalErr(c, err)
		return
	}
	name, err := dev.File.FileName.Get(c)
	if err != nil {
		internalErr(c, err)
		return
	}
	sessionOpen = true
	sessionName = name

	c.JSON(http.StatusOK, jsend.Success(keys))
}

func closeSession(c *gin.Context) {
	sessionLock.Lock()
	defer sessionLock.Unlock()
	if !sessionOpen {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("no capture session is open"))
		return
	}

	if err := wrt.Close(c); err != nil {
		internalErr(c, err)
		return
	}
	sessionOpen = false

	c.JSON(http.StatusOK, jsend.Success(nil))
}

// collectDocs emits the documents owed for the current written index
// and appends them to the session's document log. The session lock
// keeps the read-collect-append sequence atomic across requests.
func collectDocs(c *gin.Context) {
	sessionLock.Lock()
	defer sessionLock.Unlock()

	indices, err := wrt.GetIndicesWritten(c)
	if err != nil {
		internalErr(c, err)
		return
	}
	assets, err := wrt.CollectStreamDocs(c, indices)
	if err != nil {
		internalErr(c, err)
		return
	}
	if err := appendDocLog(assets); err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(gin.H{
		"indicesWritten": indices,
		"assets":         assets,
	}))
}

// appendDocLog keeps a JSONL trail of every emitted document next to
// the data it describes.
func appendDocLog(assets []stream.Asset) error {
	if len(assets) == 0 {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(*dataDir, "documents.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0660)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, a := range assets {
		if err := enc.Encode(gin.H{"kind": a.Kind, "doc": a.Doc}); err != nil {
			return err
		}
	}
	return nil
}

func getHints(c *gin.Context) {
	c.JSON(http.StatusOK, jsend.Success(wrt.Hints()))
}

func getStatus(c *gin.Context) {
	state, err := dev.Driver.DetectorState.Get(c)
	if err != nil {
		internalErr(c, err)
		return
	}
	acquiring, err := dev.Driver.Acquire.Get(c)
	if err != nil {
		internalErr(c, err)
		return
	}
	capturing, err := dev.File.Capture.Get(c)
	if err != nil {
		internalErr(c, err)
		return
	}
	indices, err := wrt.GetIndicesWritten(c)
	if err != nil {
		internalErr(c, err)
		return
	}

	cpu, err := ps.CPUStatus()
	if err != nil {
		internalErr(c, err)
		return
	}
	memory, err := ps.MemoryStatus()
	if err != nil {
		internalErr(c, err)
		return
	}
	dataDisk, err := ps.DataDiskStatus(*dataDir)
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(ov.Status{
		Detector:       *detectorName,
		State:          state.String(),
		Acquiring:      acquiring,
		Capturing:      capturing,
		IndicesWritten: indices,
		BytesWritten:   humanize.Bytes(uint64(dev.BytesWritten())),
		CPU:            cpu,
		Memory:         memory,
		DataDisk:       dataDisk,
	}))
}

// buildVideo assembles the last opened session's frames into an AVI
// preview next to the data.
func buildVideo(c *gin.Context) {
	var req ov.VideoRequest
	if err := c.Bind(&req); err != nil {
		return
	}
	if req.FPS <= 0 {
		req.FPS = 15
	}

	sessionLock.Lock()
	name := sessionName
	sessionLock.Unlock()
	if name == "" {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("no session has been opened yet"))
		return
	}

	out := filepath.Join(*dataDir, name+".avi")
	b, err := video.NewBuilder(out, *frameWidth, *frameHeight, req.FPS)
	if err != nil {
		internalErr(c, err)
		return
	}
	if err := b.AddSession(*dataDir, name, ".jpg"); err != nil {
		internalErr(c, err)
		return
	}
	if err := b.Close(); err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(gin.H{"file": out, "frames": b.GetCnt()}))
}

func ctlWebdav(c *gin.Context) {
	switch c.Query("op") {
	case webDavStart:
		wdav.Start()
		c.JSON(http.StatusOK, jsend.Success(c.Request.Host))
	case webDavShutdown:
		wdav.Stop()
		c.JSON(http.StatusOK, jsend.Success(nil))
	default:
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("unknown operation"))
	}
}

func internalErr(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, jsend.SimpleErr(err.Error()))
}
