package registry

import (
	"fmt"
	"strconv"
	"strings"
)

// Position is where a wearable is strapped on; it also names the MQTT topic level.
type Position string

const (
	LeftWrist  Position = "left-wrist"
	RightWrist Position = "right-wrist"
	LeftAnkle  Position = "left-ankle"
	RightAnkle Position = "right-ankle"
	LeftHip    Position = "left-hip"
	RightHip   Position = "right-hip"
)

// Positions lists the valid positions in menu order.
var Positions = []Position{LeftWrist, RightWrist, LeftAnkle, RightAnkle, LeftHip, RightHip}

// ParsePosition accepts a position name (case-insensitive, "_" or "-") or its
// 1-based menu number.
func ParsePosition(s string) (Position, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(v); err == nil {
		if n >= 1 && n <= len(Positions) {
			return Positions[n-1], nil
		}
		return "", fmt.Errorf("position number %d out of range 1..%d", n, len(Positions))
	}
	v = strings.ReplaceAll(v, "_", "-")
	for _, p := range Positions {
		if string(p) == v {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown position %q", s)
}

func (p Position) Valid() bool {
	for _, q := range Positions {
		if p == q {
			return true
		}
	}
	return false
}
