package segment

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// stderrClassifier reads encoder stderr line by line, separating progress
// output from diagnostic output, tracking encode speed for the
// below-realtime warning, and retaining a bounded diagnostic tail for
// failure classification.
type stderrClassifier struct {
	ring              *lineRing
	diagnosticsToLog  bool
	belowRealtimeRun  int
	warnedRealtime    bool
	onRealtimeWarning func()
}

const diagnosticRetainLines = 32

func newStderrClassifier(diagnostics bool, onRealtimeWarning func()) *stderrClassifier {
	return &stderrClassifier{
		ring:              newLineRing(diagnosticRetainLines),
		diagnosticsToLog:  diagnostics,
		onRealtimeWarning: onRealtimeWarning,
	}
}

// isProgressLine reports whether a line looks like ffmpeg's periodic
// progress report rather than a one-off diagnostic.
func isProgressLine(line string) bool {
	return strings.Contains(line, "frame=") ||
		strings.Contains(line, "fps=") ||
		strings.Contains(line, "dup=") ||
		strings.Contains(line, "drop=") ||
		strings.Contains(line, "speed=")
}

// parseSpeed extracts the numeric factor from a "speed=1.23x" token, if
// present.
func parseSpeed(line string) (float64, bool) {
	idx := strings.Index(line, "speed=")
	if idx < 0 {
		return 0, false
	}
	rest := line[idx+len("speed="):]
	rest = strings.TrimSpace(rest)
	end := strings.IndexAny(rest, "x \t")
	if end < 0 {
		end = len(rest)
	}
	val, err := strconv.ParseFloat(rest[:end], 64)
	if err != nil {
		return 0, false
	}
	return val, true
}

func (c *stderrClassifier) handleLine(line string) {
	if isProgressLine(line) {
		if speed, ok := parseSpeed(line); ok {
			if speed < 0.90 {
				c.belowRealtimeRun++
			} else {
				c.belowRealtimeRun = 0
			}
			if c.belowRealtimeRun >= 3 && !c.warnedRealtime {
				c.warnedRealtime = true
				if c.onRealtimeWarning != nil {
					c.onRealtimeWarning()
				}
			}
		}
		return
	}

	c.ring.add(line)
	if c.diagnosticsToLog {
		log.Info("encoder diagnostic", "line", line)
	}
}

// run drains r line by line until EOF or error, classifying each line. It
// returns once the stream is closed, which happens when the encoder exits.
func (c *stderrClassifier) run(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		c.handleLine(scanner.Text())
	}
}

// diagnosticTail returns the retained diagnostic lines for failure
// classification.
func (c *stderrClassifier) diagnosticTail() []string {
	return c.ring.snapshot()
}
