package analytics

// Recorder receives one event per executed search. Implementations must not
// block the caller.
type Recorder interface {
	RecordSearch(event SearchEvent)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(SearchEvent)

func (f RecorderFunc) RecordSearch(event SearchEvent) { f(event) }

type multiRecorder []Recorder

func (m multiRecorder) RecordSearch(event SearchEvent) {
	for _, r := range m {
		r.RecordSearch(event)
	}
}

// Fanout returns a Recorder that hands every event to each non-nil recorder
// in order.
func Fanout(recorders ...Recorder) Recorder {
	out := make(multiRecorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Discard drops every event.
var Discard Recorder = RecorderFunc(func(SearchEvent) {})
