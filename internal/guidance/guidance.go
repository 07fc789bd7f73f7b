// Package guidance maps the six zone summaries to a single walking directive.
package guidance

import (
	"fmt"
	"strings"

	"github.com/MeKo-Tech/pathsense/internal/zones"
)

// DefaultBlockedFraction is the obstacle fraction a zone must exceed to count
// as blocked.
const DefaultBlockedFraction = 0.3

// FallbackName names obstacles whose class has no registered name.
const FallbackName = "Obstacle"

// Kind is the directive type.
type Kind int

const (
	Continue Kind = iota
	MoveLeft
	MoveRight
	Stop
)

var kindNames = [...]string{"continue", "move_left", "move_right", "stop"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind parses the String form of a Kind.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if strings.EqualFold(s, name) {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown directive kind %q", s)
}

// Directive is the outcome of one analysis.
type Directive struct {
	Kind Kind `json:"kind"`
	// ObstacleName is empty for Continue.
	ObstacleName string `json:"obstacle_name,omitempty"`
}

// Message returns the spoken form of the directive.
func (d Directive) Message() string {
	name := d.ObstacleName
	if name == "" {
		name = FallbackName
	}
	switch d.Kind {
	case MoveLeft:
		return name + " ahead, move left."
	case MoveRight:
		return name + " ahead, move right."
	case Stop:
		return name + " ahead, stop."
	default:
		return "Continue ahead."
	}
}

// Namer resolves class ids to display names.
type Namer interface {
	Name(id int) (string, bool)
}

// Decide applies the ordered rules:
//
//  1. neither middle zone blocked: Continue
//  2. both left zones clear: MoveLeft
//  3. both right zones clear: MoveRight
//  4. otherwise: Stop
//
// A zone is blocked when its obstacle fraction is strictly greater than
// blockedFraction. The obstacle name comes from the top middle zone when it is
// blocked, else from the bottom middle zone.
func Decide(st [zones.Count]zones.Stats, names Namer, blockedFraction float64) Directive {
	var blocked [zones.Count]bool
	for i, s := range st {
		blocked[i] = s.ObstacleFraction > blockedFraction
	}

	if !blocked[zones.TopMid] && !blocked[zones.BottomMid] {
		return Directive{Kind: Continue}
	}

	source := zones.BottomMid
	if blocked[zones.TopMid] {
		source = zones.TopMid
	}
	name := FallbackName
	if names != nil {
		if n, ok := names.Name(int(st[source].DominantClassID)); ok {
			name = n
		}
	}

	switch {
	case !blocked[zones.TopLeft] && !blocked[zones.BottomLeft]:
		return Directive{Kind: MoveLeft, ObstacleName: name}
	case !blocked[zones.TopRight] && !blocked[zones.BottomRight]:
		return Directive{Kind: MoveRight, ObstacleName: name}
	default:
		return Directive{Kind: Stop, ObstacleName: name}
	}
}
