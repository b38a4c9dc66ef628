package recommend

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TraceStep is one recorded pipeline step.
type TraceStep struct {
	At      time.Time     `json:"at"`
	Elapsed time.Duration `json:"elapsed"`
	Message string        `json:"message"`
}

// warningKeywords flag a step message as a degradation worth surfacing.
var warningKeywords = []string{"error", "failed", "missing", "unavailable", "below", "empty"}

// Trace is the ordered, timestamped log of a single pipeline run. Each
// run owns its own trace; recording is safe for concurrent use so the
// harvester's sub-harvests can report failures as they happen.
type Trace struct {
	ID    string
	start time.Time
	now   func() time.Time
	log   zerolog.Logger

	mu       sync.Mutex
	steps    []TraceStep
	warnings []string
}

// NewTrace starts a trace for one pipeline run.
func NewTrace(log zerolog.Logger) *Trace {
	return newTraceAt(log, time.Now)
}

func newTraceAt(log zerolog.Logger, now func() time.Time) *Trace {
	id := uuid.NewString()
	return &Trace{
		ID:    id,
		start: now(),
		now:   now,
		log:   log.With().Str("trace_id", id).Logger(),
	}
}

// Stepf records a formatted step and mirrors it to the logger. Messages
// containing failure keywords are also captured as warnings.
func (t *Trace) Stepf(format string, args ...any) {
	if t == nil {
		return
	}
	at := t.now()
	message := fmt.Sprintf(format, args...)
	step := TraceStep{
		At:      at,
		Elapsed: at.Sub(t.start),
		Message: message,
	}

	t.mu.Lock()
	t.steps = append(t.steps, step)
	lower := strings.ToLower(message)
	for _, kw := range warningKeywords {
		if strings.Contains(lower, kw) {
			t.warnings = append(t.warnings, message)
			break
		}
	}
	t.mu.Unlock()

	t.log.Debug().Dur("elapsed", step.Elapsed).Msg(message)
}

// Steps returns the recorded steps in order.
func (t *Trace) Steps() []TraceStep {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.steps
}

// Warnings returns the messages flagged as degradations.
func (t *Trace) Warnings() []string {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.warnings
}
