package metrics2

import (
	"runtime"
	"strings"
	"time"
)

// timerSuffix distinguishes duration summaries from plain summaries.
const timerSuffix = "_ns"

// Timer measures elapsed time. Unlike the gauges it reports a single
// observation when Stop is called.
type Timer struct {
	begin   time.Time
	summary Float64SummaryMetric
}

// NewTimer starts a Timer reporting to the named duration summary.
func NewTimer(name string, tags ...map[string]string) *Timer {
	return &Timer{
		begin:   time.Now(),
		summary: GetFloat64SummaryMetric(name+timerSuffix, tags...),
	}
}

// Stop stops the timer and records the elapsed nanoseconds.
func (t *Timer) Stop() {
	t.summary.Observe(float64(time.Since(t.begin)))
}

// FuncTimer times a whole function. Use at the top of the function:
//
//	defer metrics2.FuncTimer().Stop()
func FuncTimer() *Timer {
	pc, _, _, _ := runtime.Caller(1)
	f := runtime.FuncForPC(pc)
	split := strings.Split(f.Name(), ".")
	fn := "unknown"
	pkg := "unknown"
	if len(split) >= 2 {
		fn = split[len(split)-1]
		pkg = strings.Join(split[:len(split)-1], ".")
	}
	return NewTimer("func_timer", map[string]string{"package": pkg, "func": fn})
}
