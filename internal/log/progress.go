package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Mode selects how progress is shown.
type Mode string

const (
	// ModeAuto draws a bar on terminals and logs otherwise.
	ModeAuto  Mode = "auto"
	ModeBar   Mode = "bar"
	ModePlain Mode = "plain"
	ModeNone  Mode = "none"
)

// ParseMode validates a progress mode flag value.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeAuto, ModeBar, ModePlain, ModeNone:
		return m, nil
	case "":
		return ModeAuto, nil
	}
	return "", fmt.Errorf("invalid progress mode %q (auto|bar|plain|none)", s)
}

// Resolve turns ModeAuto into ModeBar or ModePlain depending on whether out
// is a terminal.
func (m Mode) Resolve(out io.Writer) Mode {
	if m != ModeAuto {
		return m
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return ModeBar
	}
	return ModePlain
}

// ProgressIndicator reports progress of a long running loop. Updates are safe
// for concurrent use.
type ProgressIndicator struct {
	mu         sync.Mutex
	name       string
	total      int
	current    int
	mode       Mode
	out        io.Writer
	startTime  time.Time
	lastLogged int
	logEvery   int
}

// NewProgressIndicator creates an indicator writing bars to out. Plain mode
// logs roughly every 10% instead.
func NewProgressIndicator(name string, total int, mode Mode, out io.Writer) *ProgressIndicator {
	if out == nil {
		out = os.Stderr
	}
	every := total / 10
	if every < 1 {
		every = 1
	}
	return &ProgressIndicator{
		name:      name,
		total:     total,
		mode:      mode.Resolve(out),
		out:       out,
		startTime: time.Now(),
		logEvery:  every,
	}
}

// Increment advances progress by one step.
func (pi *ProgressIndicator) Increment() {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	pi.update(pi.current+1, "")
}

// UpdateWithMessage jumps to current and shows message next to the bar.
func (pi *ProgressIndicator) UpdateWithMessage(current int, message string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	pi.update(current, message)
}

// Current returns the number of completed steps.
func (pi *ProgressIndicator) Current() int {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.current
}

func (pi *ProgressIndicator) update(current int, message string) {
	pi.current = current
	switch pi.mode {
	case ModeBar:
		fmt.Fprint(pi.out, pi.render(message))
	case ModePlain:
		if pi.current-pi.lastLogged >= pi.logEvery || pi.current == pi.total || message != "" {
			pi.lastLogged = pi.current
			log.Info().
				Str("task", pi.name).
				Int("done", pi.current).
				Int("total", pi.total).
				Str("eta", pi.eta().String()).
				Msg(message)
		}
	}
}

func (pi *ProgressIndicator) eta() time.Duration {
	if pi.current <= 0 || pi.current >= pi.total {
		return 0
	}
	perItem := time.Since(pi.startTime) / time.Duration(pi.current)
	left := perItem * time.Duration(pi.total-pi.current)
	if left > time.Hour {
		return left.Round(time.Minute)
	}
	return left.Round(time.Second)
}

const (
	barCells = 24
	clearEOL = "\r\033[K"
)

func (pi *ProgressIndicator) render(message string) string {
	line := clearEOL + pi.name
	if pi.total > 0 {
		done := pi.current * barCells / pi.total
		if done > barCells {
			done = barCells
		}
		line += fmt.Sprintf(" [%s%s] %d/%d %d%%",
			strings.Repeat("=", done), strings.Repeat(".", barCells-done),
			pi.current, pi.total, pi.current*100/pi.total)
		if eta := pi.eta(); eta > 0 {
			line += " eta " + eta.String()
		}
	}
	if message != "" {
		line += ": " + message
	}
	return line
}

// Finish ends the bar line, or logs once in plain mode.
func (pi *ProgressIndicator) Finish() {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	took := time.Since(pi.startTime).Round(time.Millisecond)
	switch pi.mode {
	case ModeBar:
		fmt.Fprintf(pi.out, "%s%s done: %d in %v\n", clearEOL, pi.name, pi.total, took)
	case ModePlain:
		log.Info().Str("task", pi.name).Int("total", pi.total).Dur("took", took).Msg("Done")
	}
}

// Fail ends the bar line with reason. The failure is logged in every mode
// except none.
func (pi *ProgressIndicator) Fail(reason string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	switch pi.mode {
	case ModeNone:
		return
	case ModeBar:
		fmt.Fprintf(pi.out, "%s%s failed: %s\n", clearEOL, pi.name, reason)
	}
	log.Error().Str("task", pi.name).Int("done", pi.current).Str("reason", reason).Msg("Progress aborted")
}

// StepObserver is told about every step that ends, successfully or not.
type StepObserver func(step string, d time.Duration, ok bool)

type stepRecord struct {
	name  string
	began time.Time
	took  time.Duration
	ended bool
}

// StepLogger times the fixed phases of a run. Starting a step ends the one
// before it.
type StepLogger struct {
	records  []stepRecord
	active   int
	began    time.Time
	observer StepObserver
}

func NewStepLogger(steps []string) *StepLogger {
	records := make([]stepRecord, len(steps))
	for i, name := range steps {
		records[i].name = name
	}
	return &StepLogger{records: records, active: -1, began: time.Now()}
}

// Observe registers fn for step completions. A nil fn disables it.
func (sl *StepLogger) Observe(fn StepObserver) *StepLogger {
	sl.observer = fn
	return sl
}

func (sl *StepLogger) index(step string) int {
	for i := range sl.records {
		if sl.records[i].name == step {
			return i
		}
	}
	return -1
}

// StartStep ends the active step and begins the named one.
func (sl *StepLogger) StartStep(step string) {
	i := sl.index(step)
	if i < 0 {
		log.Warn().Str("step", step).Msg("Unknown run step ignored")
		return
	}
	sl.end(true)
	sl.active = i
	sl.records[i].began = time.Now()
	log.Debug().Str("step", step).Msgf("Step %d/%d", i+1, len(sl.records))
}

// CompleteStep ends the active step.
func (sl *StepLogger) CompleteStep() {
	sl.end(true)
}

func (sl *StepLogger) end(ok bool) {
	if sl.active < 0 {
		return
	}
	r := &sl.records[sl.active]
	if r.ended {
		return
	}
	r.took = time.Since(r.began)
	if r.took <= 0 {
		r.took = time.Nanosecond
	}
	r.ended = true
	if sl.observer != nil {
		sl.observer(r.name, r.took, ok)
	}
}

// StepDuration returns how long a finished step took, zero otherwise.
func (sl *StepLogger) StepDuration(step string) time.Duration {
	if i := sl.index(step); i >= 0 {
		return sl.records[i].took
	}
	return 0
}

// Finish ends the active step and logs one line with every step's share of
// the total wall time.
func (sl *StepLogger) Finish() {
	sl.end(true)
	total := time.Since(sl.began)

	ev := log.Info().Dur("total", total)
	for _, r := range sl.records {
		share := 0.0
		if total > 0 {
			share = float64(r.took) / float64(total)
		}
		ev = ev.Str(r.name, fmt.Sprintf("%v (%.0f%%)", r.took.Round(time.Millisecond), share*100))
	}
	ev.Msg("Run steps timed")
}

// Fail ends the active step as failed.
func (sl *StepLogger) Fail(reason string) {
	step := "none"
	if sl.active >= 0 {
		step = sl.records[sl.active].name
	}
	sl.end(false)
	log.Error().Str("step", step).Str("reason", reason).Msg("Run step failed")
}
