package chainclient

import (
	"sync"
	"time"
)

// endpointHealth is the circuit-breaker state kept for one RPC endpoint,
// the same shape as chainadapter/rpc's EndpointHealth.
type endpointHealth struct {
	TotalCalls      int64
	SuccessfulCalls int64
	FailedCalls     int64
	AvgLatencyMs    int64
	LastSuccess     int64
	LastFailure     int64
	CircuitOpen     bool
}

// healthTracker is a circuit breaker over a set of indexer endpoints: an
// endpoint opens its circuit once its total failures exceed its total
// successes by failureThreshold, and is skipped by endpoint selection until
// the open window elapses.
type healthTracker struct {
	mu                sync.RWMutex
	health            map[string]*endpointHealth
	failureThreshold  int
	successThreshold  int
	circuitOpenWindow time.Duration
}

func newHealthTracker() *healthTracker {
	return &healthTracker{
		health:            make(map[string]*endpointHealth),
		failureThreshold:  3,
		successThreshold:  2,
		circuitOpenWindow: 30 * time.Second,
	}
}

func (t *healthTracker) recordSuccess(endpoint string, durationMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.getOrCreate(endpoint)
	h.TotalCalls++
	h.SuccessfulCalls++
	h.LastSuccess = time.Now().Unix()
	if h.AvgLatencyMs == 0 {
		h.AvgLatencyMs = durationMs
	} else {
		h.AvgLatencyMs = (h.AvgLatencyMs*9 + durationMs) / 10
	}
	if h.CircuitOpen && h.SuccessfulCalls-h.FailedCalls >= int64(t.successThreshold) {
		h.CircuitOpen = false
	}
}

func (t *healthTracker) recordFailure(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.getOrCreate(endpoint)
	h.TotalCalls++
	h.FailedCalls++
	h.LastFailure = time.Now().Unix()
	if h.FailedCalls-h.SuccessfulCalls >= int64(t.failureThreshold) {
		h.CircuitOpen = true
	}
}

func (t *healthTracker) isHealthy(endpoint string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.health[endpoint]
	if !ok {
		return true
	}
	if h.CircuitOpen {
		return time.Now().Unix()-h.LastFailure >= int64(t.circuitOpenWindow.Seconds())
	}
	return true
}

func (t *healthTracker) getOrCreate(endpoint string) *endpointHealth {
	h, ok := t.health[endpoint]
	if !ok {
		h = &endpointHealth{}
		t.health[endpoint] = h
	}
	return h
}
