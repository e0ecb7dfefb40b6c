// Package motor implements the motor safety gateway (spec.md §4.7):
// it owns the UART serial port, translates nav.cmd into uppercase line
// commands, parses sensor/alert telemetry lines, and duplicates the
// firmware's forward-into-obstacle safety check on the Pi side.
package motor

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roverfleet/roverd/internal/schema"
)

// ParseLine classifies and parses one UART line into either a Sensor
// sample or an Alert. Unknown lines are reported as an error the
// caller should log and ignore (spec.md: "unknown lines are logged
// and ignored").
func ParseLine(line string, at time.Time) (sample *schema.Sensor, alert *schema.Alert, err error) {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "DATA:"):
		s, err := parseDataLine(line, at)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case strings.HasPrefix(line, "ALERT:"):
		a, err := parseAlertLine(line, at)
		if err != nil {
			return nil, nil, err
		}
		return nil, a, nil
	default:
		return nil, nil, fmt.Errorf("motor: unrecognized UART line %q", line)
	}
}

// fields splits a comma-joined KEY:VALUE list (after stripping the
// leading grammar tag) into a lookup map.
func fields(body string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(body, ",") {
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			continue
		}
		out[kv[0]] = kv[1]
	}
	return out
}

func intField(f map[string]string, key string) int {
	n, _ := strconv.Atoi(f[key])
	return n
}

func boolField(f map[string]string, key string) bool {
	return f[key] == "1"
}

// parseDataLine parses:
// DATA:S1:<n>,S2:<n>,S3:<n>,MQ2:<n>,SERVO:<n>,LMOTOR:<n>,RMOTOR:<n>,OBSTACLE:<0|1>,WARNING:<0|1>
func parseDataLine(line string, at time.Time) (*schema.Sensor, error) {
	body := strings.TrimPrefix(line, "DATA:")
	f := fields(body)

	s1, s2, s3 := intField(f, "S1"), intField(f, "S2"), intField(f, "S3")
	minDist := s1
	if s2 < minDist {
		minDist = s2
	}
	if s3 < minDist {
		minDist = s3
	}

	return &schema.Sensor{
		Timestamp:   at.Unix(),
		S1:          s1,
		S2:          s2,
		S3:          s3,
		MQ2:         intField(f, "MQ2"),
		LMotor:      intField(f, "LMOTOR"),
		RMotor:      intField(f, "RMOTOR"),
		MinDistance: minDist,
		Obstacle:    boolField(f, "OBSTACLE"),
		Warning:     boolField(f, "WARNING"),
	}, nil
}

// parseAlertLine parses: ALERT:COLLISION:<reason>,S1:<n>,S2:<n>,S3:<n>
func parseAlertLine(line string, at time.Time) (*schema.Alert, error) {
	body := strings.TrimPrefix(line, "ALERT:")
	parts := strings.SplitN(body, ",", 2)
	head := strings.SplitN(parts[0], ":", 2)
	if len(head) != 2 {
		return nil, fmt.Errorf("motor: malformed ALERT line %q", line)
	}

	var kind schema.AlertKind
	switch strings.ToUpper(head[0]) {
	case "COLLISION":
		kind = schema.AlertCollision
	case "WARNING_ZONE", "WARNING":
		kind = schema.AlertWarningZone
	case "CLEAR":
		kind = schema.AlertClear
	default:
		return nil, fmt.Errorf("motor: unknown alert kind %q", head[0])
	}

	a := &schema.Alert{Timestamp: at.Unix(), Kind: kind, Reason: head[1]}
	if len(parts) == 2 {
		f := fields(parts[1])
		a.S1, a.S2, a.S3 = intField(f, "S1"), intField(f, "S2"), intField(f, "S3")
	}
	return a, nil
}

// navCommandLine translates a nav.cmd direction into its uppercase
// UART line form (spec.md §6's "to MCU" grammar).
func navCommandLine(d schema.Direction) (string, bool) {
	switch d {
	case schema.DirForward:
		return "FORWARD", true
	case schema.DirBackward:
		return "BACKWARD", true
	case schema.DirLeft:
		return "LEFT", true
	case schema.DirRight:
		return "RIGHT", true
	case schema.DirStop:
		return "STOP", true
	case schema.DirScan:
		return "SCAN", true
	default:
		return "", false
	}
}

// lineScanner wraps bufio.Scanner for UART lines: it splits on '\n' and
// drops a trailing '\r', so LF- and CRLF-terminated lines both parse; a
// bare CR does not end a line.
func lineScanner(r *bufio.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanLines)
	return sc
}
