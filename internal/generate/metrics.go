package generate

import "time"

// Metrics receives provider call statistics.
type Metrics interface {
	CallIssued(provider, model string)
	CallFailed(provider, kind string)
	FirstMeaningful(provider, model string, latency time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) CallIssued(string, string) {}
func (nopMetrics) CallFailed(string, string) {}
func (nopMetrics) FirstMeaningful(string, string, time.Duration) {}
