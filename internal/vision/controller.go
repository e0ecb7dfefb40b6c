// Package vision implements the vision mode controller (spec.md
// §4.9): atomic mode transitions applied only at frame boundaries,
// plus single-consumer MJPEG stream arbitration.
package vision

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roverfleet/roverd/internal/ipc"
	"github.com/roverfleet/roverd/internal/schema"
)

// Frame is one captured camera frame. Source holds the raw image
// bytes (JPEG); collaborator-owned inference is out of scope here.
type Frame struct {
	Source     []byte
	CapturedAt time.Time
}

// Capturer is the collaborator-provided camera driver. CaptureFrame
// blocks until a new frame is available or ctx is done.
type Capturer interface {
	CaptureFrame(ctx context.Context) (Frame, error)
}

// Detector is the collaborator-provided inference engine; it is
// consulted once per captured frame when the mode requires detection.
// The engine itself is out of scope (spec.md Non-goals); only the
// interface boundary lives here.
type Detector interface {
	Detect(ctx context.Context, f Frame) (schema.VisionDetection, bool, error)
}

// Controller owns the camera mode and the "capture in progress" flag.
// Mode changes are read once per loop iteration (spec.md: "applied
// atomically between frames — never midway through a frame
// acquisition").
type Controller struct {
	capturer Capturer
	detector Detector
	up       *ipc.Client
	down     *ipc.Client
	log      *slog.Logger

	mode atomic.Value // schema.VisionMode

	streamMu     sync.Mutex
	streamHeld   bool
	streamFrames chan Frame
}

// NewController constructs a Controller in OFF mode.
func NewController(capturer Capturer, detector Detector, fabric *ipc.WorkerFabric, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		capturer: capturer,
		detector: detector,
		up:       fabric.Upstream,
		down:     fabric.Downstream,
		log:      log,
	}
	c.mode.Store(schema.VisionModeOff)
	return c
}

// Mode returns the currently applied mode.
func (c *Controller) Mode() schema.VisionMode {
	return c.mode.Load().(schema.VisionMode)
}

// Run consumes cmd.vision.mode and cmd.pause_vision from downstream
// and drives the capture loop: one goroutine per spec.md §5's "one
// capture thread ... plus one IPC thread".
func (c *Controller) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.consumeCommands(ctx) }()
	go func() { defer wg.Done(); c.captureLoop(ctx) }()
	wg.Wait()
}

func (c *Controller) consumeCommands(ctx context.Context) {
	ch := c.down.Subscribe(schema.TopicVisionMode, schema.TopicPauseVision)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			c.handleCommand(msg)
		}
	}
}

func (c *Controller) handleCommand(msg ipc.Message) {
	decoded, err := schema.DecodeDownstream(msg.Topic, msg.Payload)
	if err != nil {
		c.log.Warn("dropping malformed vision command", "topic", msg.Topic, "err", err)
		return
	}
	switch m := decoded.(type) {
	case schema.VisionModeCmd:
		c.mode.Store(m.Mode)
	case schema.PauseVision:
		if m.Paused {
			c.mode.Store(schema.VisionModeOff)
		}
	}
}

// captureLoop reads the pending mode once per iteration and applies
// it atomically between captures, then captures a frame and, if the
// mode calls for it, runs detection and publishes visn.detection.
func (c *Controller) captureLoop(ctx context.Context) {
	var lastApplied schema.VisionMode = schema.VisionModeOff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		current := c.Mode()
		if current != lastApplied {
			c.applyModeTransition(lastApplied, current)
			lastApplied = current
		}

		if current == schema.VisionModeOff {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		frame, err := c.capturer.CaptureFrame(ctx)
		if err != nil {
			c.log.Warn("frame capture failed", "err", err)
			continue
		}

		if current == schema.VisionModeOnWithStream {
			c.publishFrame(frame)
		}

		det, ok, err := c.detector.Detect(ctx, frame)
		if err != nil {
			c.log.Warn("detection failed", "err", err)
			continue
		}
		if ok {
			det.Timestamp = time.Now().Unix()
			raw, err := schema.Encode(det)
			if err != nil {
				c.log.Error("failed to encode visn.detection", "err", err)
				continue
			}
			c.up.Publish(schema.TopicVisionDetection, raw)
		}
	}
}

func (c *Controller) applyModeTransition(from, to schema.VisionMode) {
	c.log.Info("vision mode transition", "from", from, "to", to)
}

func (c *Controller) publishFrame(f Frame) {
	c.streamMu.Lock()
	ch := c.streamFrames
	c.streamMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- f:
	default:
		// Stream consumer too slow: drop, keep only the latest frame.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- f:
		default:
		}
	}
}

// StreamActive reports whether a consumer currently holds the MJPEG
// stream slot, without acquiring it.
func (c *Controller) StreamActive() bool {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	return c.streamHeld
}

// AcquireStream reserves the single MJPEG stream slot. Returns an
// error if another consumer already holds it (spec.md §4.8: "only one
// consumer may hold the stream at a time"); the HTTP layer translates
// that into a 409.
func (c *Controller) AcquireStream() (<-chan Frame, func(), error) {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	if c.streamHeld {
		return nil, nil, fmt.Errorf("vision: mjpeg stream already held by another consumer")
	}
	c.streamHeld = true
	c.streamFrames = make(chan Frame, 1)
	ch := c.streamFrames
	release := func() {
		c.streamMu.Lock()
		defer c.streamMu.Unlock()
		c.streamHeld = false
		close(c.streamFrames)
		c.streamFrames = nil
	}
	return ch, release, nil
}
