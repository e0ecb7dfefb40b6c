package motor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/roverfleet/roverd/internal/ipc"
	"github.com/roverfleet/roverd/internal/schema"
)

// Config configures the gateway's serial port and carries the
// configured safety distances (spec.md §4.3, §4.7). The Pi-side forward
// check (forwardBlocked) does not compare distances against
// StopDistanceCM or WarningDistanceCM; it uses the sensor sample's
// Obstacle and Warning flags only.
type Config struct {
	Port              string
	Baud              int
	StopDistanceCM    int
	WarningDistanceCM int
}

// OpenSerial opens the UART at 8N1 with the configured baud rate. No
// serial port library appears anywhere in the example pack; go.bug.st/serial
// is the dependency adopted to fill that gap — see DESIGN.md.
func OpenSerial(cfg Config) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("motor: open serial port %s: %w", cfg.Port, err)
	}
	return port, nil
}

// Gateway owns the UART connection and bridges it to the IPC fabric:
// one goroutine drains incoming telemetry lines and publishes
// esp.sensor/esp.alert upstream, one drains nav.cmd downstream and
// writes UART command lines, and both share a lock-protected latest
// sensor sample used by the Pi-side forward-safety check (spec.md §5).
type Gateway struct {
	cfg  Config
	port io.ReadWriteCloser
	up   *ipc.Client
	down *ipc.Client
	log  *slog.Logger

	mu         sync.Mutex
	latest     schema.Sensor
	haveSample bool

	writeMu sync.Mutex
}

// NewGateway constructs a Gateway. fabric is the worker-side
// connection to both IPC channels.
func NewGateway(cfg Config, port io.ReadWriteCloser, fabric *ipc.WorkerFabric, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{cfg: cfg, port: port, up: fabric.Upstream, down: fabric.Downstream, log: log}
}

// Run starts both cooperating goroutines and blocks until ctx is done.
func (g *Gateway) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); g.readUART(ctx) }()
	go func() { defer wg.Done(); g.consumeNavCmds(ctx) }()
	wg.Wait()
}

// readUART drains line-framed telemetry from the UART and publishes
// it upstream as esp.sensor/esp.alert.
func (g *Gateway) readUART(ctx context.Context) {
	sc := lineScanner(bufio.NewReader(g.port))
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := sc.Text()
		sample, alert, err := ParseLine(line, time.Now())
		if err != nil {
			g.log.Warn("unrecognized UART line", "line", line, "err", err)
			continue
		}

		switch {
		case sample != nil:
			g.mu.Lock()
			g.latest = *sample
			g.haveSample = true
			g.mu.Unlock()
			g.publishUp(schema.TopicSensor, sample)
		case alert != nil:
			g.publishUp(schema.TopicAlert, alert)
		}
	}
}

// consumeNavCmds drains nav.cmd from downstream, applies the Pi-side
// forward-into-obstacle check, and writes the resulting UART command
// line with retry-until-complete semantics.
func (g *Gateway) consumeNavCmds(ctx context.Context) {
	ch := g.down.Subscribe(schema.TopicNavCmd)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			g.handleNavCmd(msg.Payload)
		}
	}
}

func (g *Gateway) handleNavCmd(raw []byte) {
	decoded, err := schema.DecodeDownstream(schema.TopicNavCmd, raw)
	if err != nil {
		g.log.Warn("dropping malformed nav.cmd", "err", err)
		return
	}
	cmd := decoded.(schema.NavCmd)

	if cmd.Direction == schema.DirForward && g.forwardBlocked() {
		g.publishUp(schema.TopicAlert, &schema.Alert{
			Timestamp: time.Now().Unix(),
			Kind:      schema.AlertWarningZone,
			Reason:    "nav.blocked: forward suppressed by Pi-side obstacle check",
		})
		return
	}

	line, ok := navCommandLine(cmd.Direction)
	if !ok {
		g.log.Warn("nav.cmd has no UART mapping", "direction", cmd.Direction)
		return
	}
	if err := g.writeLine(line); err != nil {
		g.log.Error("UART write failed, dropping command", "line", line, "err", err)
		g.publishUp(schema.TopicHealthPrefix+"motor", &schema.Health{Timestamp: time.Now().Unix(), OK: false, Detail: err.Error()})
	}
}

// forwardBlocked duplicates the firmware-side collision check using
// the gateway's cached latest sensor sample (spec.md §4.7: "both
// layers must independently refuse to move forward into an obstacle").
func (g *Gateway) forwardBlocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.haveSample {
		return false
	}
	return g.latest.Obstacle || g.latest.Warning
}

// writeLine writes line plus a CRLF terminator, retrying a partial
// write until the full buffer is emitted or an unrecoverable error
// surfaces.
func (g *Gateway) writeLine(line string) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	buf := []byte(line + "\r\n")
	for len(buf) > 0 {
		n, err := g.port.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func (g *Gateway) publishUp(topic string, payload any) {
	raw, err := schema.Encode(payload)
	if err != nil {
		g.log.Error("failed to encode upstream payload", "topic", topic, "err", err)
		return
	}
	g.up.Publish(topic, raw)
}
