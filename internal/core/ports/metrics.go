package ports

import "time"

// MetricsCollector receives counters from the streaming core. Implementations
// must be cheap: the dispatch path calls these per chunk.
type MetricsCollector interface {
	CommandSessionOpened()
	CommandSessionClosed()
	StreamingSessionOpened()
	StreamingSessionClosed()

	ChunkDispatched(recipients, bytes int)
	ChunkDeferred()
	ClientsSkipped(count int)
	RateChanged(sampleRate int)

	PingRTT(rtt time.Duration)
}
