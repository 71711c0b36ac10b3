// Package baton drives the run's progress display: a twirling cursor for
// indefinite work, a percentage/rate meter for counted work, and a plain
// logrus sink when stdout isn't a terminal. Grounded on
// surgeon/baton.go from the teacher, trimmed of the tput-escape plumbing
// in favor of golang.org/x/crypto/ssh/terminal for interactivity detection
// and logrus for the message sink (see SPEC_FULL.md Part B/C).
package baton

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh/terminal"
)

const twirlInterval = 100 * time.Millisecond
const progressInterval = 1 * time.Second

// Baton is the run-scoped progress/log surface passed down into every
// streaming stage of the pipeline.
type Baton struct {
	enabled  bool
	stream   io.Writer
	log      *logrus.Logger
	mu       sync.Mutex
	twirly   twirly
	counter  counter
	progress progress
	start    time.Time
}

type twirly struct {
	lastupdate time.Time
	count      uint8
}

type counter struct {
	format string
	count  uint64
}

type progress struct {
	tag        string
	start      time.Time
	lastupdate time.Time
	count      uint64
	lastcount  uint64
	expected   uint64
}

// New creates a Baton. interactive, if nil, is auto-detected from whether
// stdout is a terminal.
func New(log *logrus.Logger, interactive *bool) *Baton {
	if log == nil {
		log = logrus.StandardLogger()
	}
	on := false
	if interactive != nil {
		on = *interactive
	} else {
		on = terminal.IsTerminal(int(os.Stdout.Fd()))
	}
	return &Baton{
		enabled: on,
		stream:  os.Stdout,
		log:     log,
		start:   time.Now(),
	}
}

// SetInteractive toggles whether progress rendering (vs. plain logging) is
// used; callers typically flip this off when redirecting output to a file.
func (b *Baton) SetInteractive(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = on
}

// Logf emits a log line through logrus, first clearing the progress line
// on the progress stream when progress rendering is enabled.
func (b *Baton) Logf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if b.enabled {
		b.clearLine()
	}
	b.log.Info(msg)
}

// WithFields returns a logrus entry pre-populated with run context, for
// structured log lines (mark, commit, stage fields per SPEC_FULL.md).
func (b *Baton) WithFields(fields logrus.Fields) *logrus.Entry {
	return b.log.WithFields(fields)
}

func (b *Baton) clearLine() {
	if b.stream != nil {
		fmt.Fprint(b.stream, "\r\x1b[K")
	}
}

// Twirl advances the indefinite spinner, rate-limited to twirlInterval.
func (b *Baton) Twirl() {
	if !b.enabled {
		return
	}
	b.mu.Lock()
	if time.Since(b.twirly.lastupdate) <= twirlInterval {
		b.mu.Unlock()
		return
	}
	b.twirly.count = (b.twirly.count + 1) % 4
	b.twirly.lastupdate = time.Now()
	b.mu.Unlock()
	b.render()
}

// StartProgress begins a percentage/rate meter for expected total units.
func (b *Baton) StartProgress(tag string, expected uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.progress = progress{tag: tag, start: time.Now(), lastupdate: time.Now(), expected: expected}
}

// PercentProgress reports ccount of the expected total, rate-limited to
// progressInterval (or forced at completion).
func (b *Baton) PercentProgress(ccount uint64) {
	if !b.enabled {
		return
	}
	b.mu.Lock()
	if time.Since(b.progress.lastupdate) <= progressInterval && ccount != b.progress.expected {
		b.mu.Unlock()
		return
	}
	b.progress.lastcount = b.progress.count
	b.progress.count = ccount
	b.progress.lastupdate = time.Now()
	b.mu.Unlock()
	b.render()
}

// EndProgress finalizes the meter at 100% and logs a summary line.
func (b *Baton) EndProgress() {
	b.mu.Lock()
	b.progress.count = b.progress.expected
	tag := b.progress.tag
	elapsed := time.Since(b.progress.start).Round(time.Millisecond * 10)
	total := b.progress.expected
	b.progress = progress{}
	b.mu.Unlock()
	if b.enabled {
		b.clearLine()
	}
	b.log.Infof("%s: %d done in %s", tag, total, elapsed)
}

// StartCounter begins an open-ended "N done" counter with the given
// printf-style format string applied to the running count.
func (b *Baton) StartCounter(format string, initial uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counter = counter{format: format, count: initial}
}

// BumpCounter increments the counter, or twirls if no counter is active.
func (b *Baton) BumpCounter() {
	b.mu.Lock()
	active := b.counter.format != ""
	if active {
		b.counter.count++
	}
	b.mu.Unlock()
	if active {
		b.render()
	} else {
		b.Twirl()
	}
}

// EndCounter finalizes and logs the counter.
func (b *Baton) EndCounter() {
	b.mu.Lock()
	format, count := b.counter.format, b.counter.count
	b.counter = counter{}
	b.mu.Unlock()
	if format != "" {
		b.log.Infof(format, count)
	}
}

func (b *Baton) render() {
	if !b.enabled {
		return
	}
	var buf strings.Builder
	b.mu.Lock()
	if b.counter.format != "" {
		fmt.Fprintf(&buf, b.counter.format, b.counter.count)
		buf.WriteByte(' ')
	}
	if b.progress.expected > 0 {
		renderProgress(&buf, b.progress)
	}
	fmt.Fprintf(&buf, " (%v)", time.Since(b.start).Round(time.Second))
	buf.WriteByte(' ')
	buf.WriteByte("-\\|/"[b.twirly.count])
	b.mu.Unlock()
	fmt.Fprint(b.stream, "\r\x1b[K"+buf.String())
}

func renderProgress(b io.Writer, p progress) {
	frac := float64(p.count) / float64(p.expected)
	elapsed := p.lastupdate.Sub(p.start)
	rate := float64(p.count) / elapsed.Seconds()
	ratemsg := scale(rate)
	if elapsed.Seconds() == 0 || math.IsInf(rate, 0) {
		ratemsg = "∞"
	}
	if elapsed.Seconds() > 1 {
		elapsed = elapsed.Round(time.Second)
	}
	fmt.Fprintf(b, "%s %.2f%% %s/%s, %v @ %s/s",
		p.tag, frac*100, scale(float64(p.count)), scale(float64(p.expected)), elapsed, ratemsg)
}

func scale(n float64) string {
	switch {
	case n < 1000:
		return fmt.Sprintf("%.0f", n)
	case n < 1e6:
		return fmt.Sprintf("%.2fK", n/1e3)
	case n < 1e9:
		return fmt.Sprintf("%.2fM", n/1e6)
	default:
		return fmt.Sprintf("%.2fG", n/1e9)
	}
}
