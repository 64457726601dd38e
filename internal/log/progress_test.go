package log

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := zlog.Logger
	zlog.Logger = zerolog.New(&buf)
	t.Cleanup(func() { zlog.Logger = prev })
	return &buf
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("PLAIN")
	require.NoError(t, err)
	assert.Equal(t, ModePlain, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, m)

	_, err = ParseMode("fancy")
	assert.Error(t, err)
}

func TestModeResolve_NonTerminal(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, ModePlain, ModeAuto.Resolve(&buf))
	assert.Equal(t, ModeBar, ModeBar.Resolve(&buf))
	assert.Equal(t, ModeNone, ModeNone.Resolve(&buf))
}

func TestProgressIndicator_Bar(t *testing.T) {
	var out bytes.Buffer
	pi := NewProgressIndicator("replay", 4, ModeBar, &out)
	pi.Increment()
	pi.Increment()

	assert.Contains(t, out.String(), "replay [")
	assert.Contains(t, out.String(), "] 2/4 50%")
	assert.Equal(t, 2, pi.Current())

	pi.Finish()
	assert.Contains(t, out.String(), "replay done: 4 in ")
}

func TestProgressIndicator_PlainLogsEveryTenth(t *testing.T) {
	logs := captureLogs(t)
	var out bytes.Buffer
	pi := NewProgressIndicator("replay", 20, ModePlain, &out)
	for i := 0; i < 20; i++ {
		pi.Increment()
	}

	assert.Empty(t, out.String())
	assert.Equal(t, 10, bytes.Count(logs.Bytes(), []byte(`"task":"replay"`)))
}

func TestProgressIndicator_None(t *testing.T) {
	logs := captureLogs(t)
	var out bytes.Buffer
	pi := NewProgressIndicator("replay", 3, ModeNone, &out)
	pi.Increment()
	pi.Finish()
	assert.Empty(t, out.String())
	assert.Empty(t, logs.String())
}

func TestStepLogger(t *testing.T) {
	logs := captureLogs(t)
	type seen struct {
		step string
		ok   bool
	}
	var got []seen
	sl := NewStepLogger([]string{"load", "fit", "replay"}).Observe(func(step string, d time.Duration, ok bool) {
		assert.Positive(t, d)
		got = append(got, seen{step, ok})
	})
	sl.StartStep("load")
	sl.StartStep("fit")
	sl.StartStep("bogus")
	sl.Finish()
	sl.Finish()

	assert.Positive(t, sl.StepDuration("load"))
	assert.Positive(t, sl.StepDuration("fit"))
	assert.Zero(t, sl.StepDuration("replay"))
	assert.Zero(t, sl.StepDuration("bogus"))
	assert.Equal(t, []seen{{"load", true}, {"fit", true}}, got)
	assert.Contains(t, logs.String(), "Unknown run step ignored")
	assert.Contains(t, logs.String(), "Run steps timed")
}

func TestStepLogger_Fail(t *testing.T) {
	logs := captureLogs(t)
	var failed string
	sl := NewStepLogger([]string{"fit", "replay"}).Observe(func(step string, _ time.Duration, ok bool) {
		if !ok {
			failed = step
		}
	})
	sl.StartStep("fit")
	sl.StartStep("replay")
	sl.Fail("boom")

	assert.Equal(t, "replay", failed)
	assert.Contains(t, logs.String(), "Run step failed")
	assert.Contains(t, logs.String(), "boom")
}
