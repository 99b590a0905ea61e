package broadcaster

import "time"

const (
	// defaultRTTEstimate seeds the estimator before the first measurement.
	defaultRTTEstimate = 200 * time.Millisecond

	// minRTTEstimate and maxRTTEstimate bound the estimate and every
	// timeout derived from it.
	minRTTEstimate = 5 * time.Millisecond
	maxRTTEstimate = 5 * time.Second

	// rttDecay is the weight of the previous estimate when folding in a new
	// measurement.
	rttDecay = 0.95

	// timeoutGrowth stretches the estimate after a timed-out attempt.
	timeoutGrowth = 1.6
)

// rttEstimator keeps an exponentially smoothed round-trip estimate per peer.
// It is a value type: the owning goroutine threads it through its loop,
// so no locking is needed.
type rttEstimator struct {
	estimate time.Duration
}

func newRTTEstimator() rttEstimator {
	return rttEstimator{estimate: defaultRTTEstimate}
}

// observe folds a measured round trip into the estimate.
func (r rttEstimator) observe(rtt time.Duration) rttEstimator {
	r.estimate = clampEstimate(time.Duration(float64(r.estimate)*rttDecay + float64(rtt)*(1-rttDecay)))
	return r
}

// recordTimeout stretches the estimate after a timed-out attempt so that
// future requests to the peer get a larger deadline.
func (r rttEstimator) recordTimeout() rttEstimator {
	r.estimate = clampEstimate(time.Duration(float64(r.estimate) * timeoutGrowth))
	return r
}

// timeout returns the request timeout derived from the current estimate.
func (r rttEstimator) timeout() time.Duration {
	return clampEstimate(2 * r.estimate)
}

func clampEstimate(d time.Duration) time.Duration {
	if d < minRTTEstimate {
		return minRTTEstimate
	}
	if d > maxRTTEstimate {
		return maxRTTEstimate
	}
	return d
}
