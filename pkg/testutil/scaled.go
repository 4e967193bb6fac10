package testutil

import (
	"os"
	"strconv"
	"time"

	"fish.sh/concur/pkg/env"
)

// Scaled returns d scaled by $FISH_TEST_TIME_SCALE. If the environment
// variable does not exist or contains an invalid value, the scale defaults to
// 1.
func Scaled(d time.Duration) time.Duration {
	return time.Duration(float64(d) * getTestTimeScale())
}

// ScaledMs is a convenience wrapper around Scaled for callers that think in
// milliseconds, such as timeouts on a chdir ticket or a buffer-fill drain.
func ScaledMs(ms int) time.Duration {
	return Scaled(time.Duration(ms) * time.Millisecond)
}

func getTestTimeScale() float64 {
	env := os.Getenv(env.FISH_TEST_TIME_SCALE)
	if env == "" {
		return 1
	}
	scale, err := strconv.ParseFloat(env, 64)
	if err != nil || scale <= 0 {
		return 1
	}
	return scale
}
