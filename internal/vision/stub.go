package vision

import (
	"context"
	"time"

	"github.com/roverfleet/roverd/internal/schema"
)

// placeholderJPEG is a minimal valid 1x1 black JPEG, used by
// NullCapturer in place of real camera bytes.
var placeholderJPEG = []byte{
	0xFF, 0xD8, 0xFF, 0xDB, 0x00, 0x43, 0x00, 0x03, 0x02, 0x02, 0x02, 0x02,
	0x02, 0x03, 0x02, 0x02, 0x02, 0x03, 0x03, 0x03, 0x03, 0x04, 0x06, 0x04,
	0x04, 0x04, 0x04, 0x04, 0x08, 0x06, 0x06, 0x05, 0x06, 0x09, 0x08, 0x0A,
	0x0A, 0x09, 0x08, 0x09, 0x09, 0x0A, 0x0C, 0x0F, 0x0C, 0x0A, 0x0B, 0x0E,
	0x0B, 0x09, 0x09, 0x0D, 0x11, 0x0D, 0x0E, 0x0F, 0x10, 0x10, 0x11, 0x10,
	0x0A, 0x0C, 0x12, 0x13, 0x12, 0x10, 0x13, 0x0F, 0x10, 0x10, 0x10, 0xFF,
	0xC9, 0x00, 0x0B, 0x08, 0x00, 0x01, 0x00, 0x01, 0x01, 0x01, 0x11, 0x00,
	0xFF, 0xCC, 0x00, 0x06, 0x00, 0x10, 0x10, 0x05, 0xFF, 0xDA, 0x00, 0x08,
	0x01, 0x01, 0x00, 0x00, 0x3F, 0x00, 0xD2, 0xCF, 0x20, 0xFF, 0xD9,
}

// NullCapturer stands in for the collaborator-owned camera driver
// (spec.md Non-goals: vision inference engines are out of scope). It
// emits a fixed placeholder frame on a timer so the vision mode
// controller and MJPEG stream arbitration can run end-to-end without a
// real camera attached; a deployment wires a real Capturer in its
// place.
type NullCapturer struct {
	Interval time.Duration
}

// CaptureFrame blocks until the next tick or ctx is done.
func (c NullCapturer) CaptureFrame(ctx context.Context) (Frame, error) {
	interval := c.Interval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-time.After(interval):
		return Frame{Source: placeholderJPEG, CapturedAt: time.Now()}, nil
	}
}

// NullDetector stands in for the collaborator-owned inference engine
// (spec.md Non-goals). It never reports a detection.
type NullDetector struct{}

func (NullDetector) Detect(ctx context.Context, f Frame) (schema.VisionDetection, bool, error) {
	return schema.VisionDetection{}, false, nil
}
