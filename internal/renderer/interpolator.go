package renderer

import "math"

// Lerp performs linear interpolation between a and b.
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// EaseInOutCubic applies smooth in-out easing.
func EaseInOutCubic(t float64) float64 {
	t = clamp01(t)
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - pow(-2*t+2, 3)/2
}

// EaseOutCubic decelerates towards t=1.
func EaseOutCubic(t float64) float64 {
	t = clamp01(t)
	return 1 - pow(1-t, 3)
}

// EntranceOffset returns the vertical offset in pixels of an overlay that
// slides into place over duration seconds. It reaches 0 at elapsed >= duration.
func EntranceOffset(elapsed, duration float64, distance int) int {
	if duration <= 0 || elapsed >= duration || distance == 0 {
		return 0
	}
	if elapsed < 0 {
		elapsed = 0
	}
	p := EaseOutCubic(elapsed / duration)
	return int(math.Round(Lerp(float64(distance), 0, p)))
}

func clamp01(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// pow calculates x^n
func pow(x float64, n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= x
	}
	return result
}
