package ohlcv

import (
	"fmt"
	"strconv"
)

// Timeframe is a unit letter (m|h|d) with a positive multiplier, e.g. "5m", "4h".
type Timeframe struct {
	Value int
	Unit  byte
}

func ParseTimeframe(s string) (Timeframe, error) {
	if len(s) < 2 {
		return Timeframe{}, fmt.Errorf("invalid timeframe: %q", s)
	}
	unit := s[len(s)-1]
	if unit != 'm' && unit != 'h' && unit != 'd' {
		return Timeframe{}, fmt.Errorf("invalid timeframe unit: %q", s)
	}
	v, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || v <= 0 {
		return Timeframe{}, fmt.Errorf("invalid timeframe value: %q", s)
	}
	return Timeframe{Value: v, Unit: unit}, nil
}

func (tf Timeframe) String() string {
	return fmt.Sprintf("%d%c", tf.Value, tf.Unit)
}

// MS returns the timeframe length in milliseconds.
func (tf Timeframe) MS() int64 {
	switch tf.Unit {
	case 'm':
		return int64(tf.Value) * 60 * 1000
	case 'h':
		return int64(tf.Value) * 60 * 60 * 1000
	default:
		return int64(tf.Value) * 24 * 60 * 60 * 1000
	}
}

// Secs returns the timeframe length in seconds.
func (tf Timeframe) Secs() int64 {
	return tf.MS() / 1000
}

// FileKey is the numeric minutes key used in data file names.
// Day-based timeframes keep their raw form, matching the provider's naming.
func (tf Timeframe) FileKey() string {
	switch tf.Unit {
	case 'm':
		return strconv.Itoa(tf.Value)
	case 'h':
		return strconv.Itoa(tf.Value * 60)
	default:
		return tf.String()
	}
}
