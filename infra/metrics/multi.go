package metrics

import coremetrics "github.com/emsgo/dispatch/core/metrics"

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordDispatchCompletion forwards the record to all sinks, returning the
// first error encountered.
func (m *MultiSink) RecordDispatchCompletion(rec coremetrics.DispatchCompletion) error {
	for _, s := range m.Sinks {
		if err := s.RecordDispatchCompletion(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordLocation forwards the point to all sinks, returning the first error
// encountered.
func (m *MultiSink) RecordLocation(p coremetrics.LocationPoint) error {
	for _, s := range m.Sinks {
		if err := s.RecordLocation(p); err != nil {
			return err
		}
	}
	return nil
}
