package guidance

import (
	"fmt"
	"math"
	"time"
)

// Level is the haptic intensity suggested for the presentation layer.
type Level int

const (
	None Level = iota
	Light
	Medium
	Heavy
)

var levelNames = [...]string{"none", "light", "medium", "heavy"}

func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	for i, name := range levelNames {
		if string(b) == name {
			*l = Level(i)
			return nil
		}
	}
	return fmt.Errorf("unknown feedback level %q", b)
}

// Feedback pairs an intensity with a pulse interval.
type Feedback struct {
	Level    Level         `json:"level"`
	Interval time.Duration `json:"interval_ns"`
}

const (
	heavyWithin  = 0.5
	mediumWithin = 1.0
	lightWithin  = 2.0

	rampStart    = 0.7
	rampEnd      = 5.0
	minInterval  = 100 * time.Millisecond
	maxInterval  = time.Second
	idleInterval = 2 * time.Second
)

// FeedbackFor maps the nearest distance in meters to haptic feedback. Closer
// obstacles get stronger and more frequent pulses; invalid or non-positive
// distances produce no feedback.
func FeedbackFor(distance float64) Feedback {
	if distance <= 0 || math.IsNaN(distance) || math.IsInf(distance, 0) {
		return Feedback{Level: None, Interval: idleInterval}
	}

	var lvl Level
	switch {
	case distance <= heavyWithin:
		lvl = Heavy
	case distance <= mediumWithin:
		lvl = Medium
	case distance <= lightWithin:
		lvl = Light
	default:
		lvl = None
	}

	if distance >= lightWithin {
		return Feedback{Level: lvl, Interval: idleInterval}
	}
	fraction := min(max((distance-rampStart)/(rampEnd-rampStart), 0), 1)
	seconds := 0.05 + fraction*0.95
	interval := time.Duration(seconds * float64(time.Second))
	return Feedback{Level: lvl, Interval: min(max(interval, minInterval), maxInterval)}
}
