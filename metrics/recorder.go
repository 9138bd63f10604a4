package metrics

import "time"

// RequestResult labels the outcome of one zuul-web request.
type RequestResult string

const (
	RequestSuccess RequestResult = "success"
	RequestError   RequestResult = "error"
)

// Recorder receives client and stream observations. Implementations may
// forward to Prometheus; NoopRecorder is used when metrics are not configured.
type Recorder interface {
	ObserveRequest(endpoint string, result RequestResult, d time.Duration)
	IncRetry(endpoint string)
	IncDecodeError()
	IncDuplicate()
	IncBuild(result string)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) ObserveRequest(string, RequestResult, time.Duration) {}
func (NoopRecorder) IncRetry(string)                                    {}
func (NoopRecorder) IncDecodeError()                                    {}
func (NoopRecorder) IncDuplicate()                                      {}
func (NoopRecorder) IncBuild(string)                                    {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
