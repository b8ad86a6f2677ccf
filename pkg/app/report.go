package app

import (
	"fmt"
	"time"

	"github.com/vsi-examples/vsistream/pkg/stream"
)

// Report summarizes one application run.
type Report struct {
	Kind        string        `json:"kind" yaml:"kind"`
	Source      string        `json:"source" yaml:"source"`
	Sink        string        `json:"sink" yaml:"sink"`
	Started     time.Time     `json:"started" yaml:"started"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	Delivered   uint64        `json:"delivered" yaml:"delivered"`
	Produced    uint64        `json:"produced" yaml:"produced"`
	Overflows   uint64        `json:"overflows" yaml:"overflows"`
	Dropped     uint64        `json:"dropped" yaml:"dropped"`
	EndOfStream bool          `json:"end_of_stream" yaml:"end_of_stream"`
}

func (r *Report) addStats(st stream.Stats) {
	r.Produced = st.Produced
	r.Overflows = st.Overruns
	r.Dropped = st.Dropped
}

// Status is a short description of how the run ended.
func (r *Report) Status() string {
	switch {
	case r.EndOfStream:
		return "end of stream"
	case r.Delivered == 0:
		return "no data"
	default:
		return "stopped"
	}
}

// Lines returns the report as display lines.
func (r *Report) Lines() []string {
	return []string{
		fmt.Sprintf("source     %s", r.Source),
		fmt.Sprintf("sink       %s", r.Sink),
		fmt.Sprintf("delivered  %d", r.Delivered),
		fmt.Sprintf("produced   %d", r.Produced),
		fmt.Sprintf("overflows  %d", r.Overflows),
		fmt.Sprintf("dropped    %d", r.Dropped),
	}
}
