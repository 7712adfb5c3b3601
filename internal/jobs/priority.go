package jobs

import "fmt"

// Priority orders jobs in the queue; P0 runs first.
type Priority int

const (
	P0 Priority = iota
	P1
	P2
	P3
)

// Priorities lists every class, highest first.
var Priorities = []Priority{P0, P1, P2, P3}

func (p Priority) String() string {
	if p < P0 || p > P3 {
		return fmt.Sprintf("P?(%d)", int(p))
	}
	return fmt.Sprintf("P%d", int(p))
}

// ParsePriority parses "P0".."P3".
func ParsePriority(s string) (Priority, error) {
	for _, p := range Priorities {
		if p.String() == s {
			return p, nil
		}
	}
	return P3, fmt.Errorf("unknown priority %q", s)
}
