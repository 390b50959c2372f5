// Package util contains misc internal utilities.
package util

// Limiter is a software limit on a value.  The zero value does not limit
type Limiter struct {
	Min float64 `json:"min" yaml:"Min" koanf:"Min"`
	Max float64 `json:"max" yaml:"Max" koanf:"Max"`
}

// Unlimited returns true if both bounds are zero, which disables the limiter
func (l Limiter) Unlimited() bool {
	return l.Min == 0 && l.Max == 0
}

// Check returns true if Min <= f <= Max, or the limiter is unlimited
func (l Limiter) Check(f float64) bool {
	if l.Unlimited() {
		return true
	}
	return f >= l.Min && f <= l.Max
}

// Clamp limits a value to the range [low, high]
func Clamp(input, low, high float64) float64 {
	if input < low {
		return low
	} else if input > high {
		return high
	}
	return input
}

// GetBit returns the value of a given bit in a word
func GetBit(w uint64, bitIndex uint) bool {
	return (w>>bitIndex)&1 == 1
}

// SetBit sets a given bit in a word to v
func SetBit(w uint64, bitIndex uint, v bool) uint64 {
	if v {
		return w | 1<<bitIndex
	}
	return w &^ (1 << bitIndex)
}
