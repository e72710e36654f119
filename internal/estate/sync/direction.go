package sync

import (
	"fmt"
	"strings"
)

// Direction selects which side(s) a reconcile writes.
type Direction int

const (
	// AToB writes the merged collection to B.
	AToB Direction = iota
	// BToA writes the merged collection to A.
	BToA
	// Bidirectional writes the merged collection to both sides.
	Bidirectional
)

func (d Direction) String() string {
	switch d {
	case AToB:
		return "a-to-b"
	case BToA:
		return "b-to-a"
	case Bidirectional:
		return "both"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// ParseDirection accepts a-to-b, b-to-a and both.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a-to-b", "atob", "":
		return AToB, nil
	case "b-to-a", "btoa":
		return BToA, nil
	case "both", "bidirectional", "merge":
		return Bidirectional, nil
	}
	return 0, fmt.Errorf("unknown sync direction %q", s)
}

// Side names one of the two stores of a reconcile.
type Side int

const (
	SideNone Side = iota
	SideA
	SideB
)

func (s Side) String() string {
	switch s {
	case SideA:
		return "a"
	case SideB:
		return "b"
	}
	return "none"
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ParseSide accepts a, b or an empty string for no authoritative side.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return SideNone, nil
	case "a":
		return SideA, nil
	case "b":
		return SideB, nil
	}
	return SideNone, fmt.Errorf("unknown side %q (want a, b or none)", s)
}

// Route names two stores and a direction, as written on the command line:
// "json-to-csv" writes csv from json; "json+csv" merges both ways.
type Route struct {
	From, To  string
	Direction Direction
}

func (r Route) String() string {
	switch r.Direction {
	case Bidirectional:
		return r.From + "+" + r.To
	case BToA:
		return r.To + "-to-" + r.From
	}
	return r.From + "-to-" + r.To
}

// ParseRoute parses "x-to-y" and "x+y".
func ParseRoute(s string) (Route, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if from, to, ok := strings.Cut(s, "+"); ok && from != "" && to != "" && from != to {
		return Route{From: from, To: to, Direction: Bidirectional}, nil
	}
	if from, to, ok := strings.Cut(s, "-to-"); ok && from != "" && to != "" && from != to {
		return Route{From: from, To: to, Direction: AToB}, nil
	}
	return Route{}, fmt.Errorf("invalid sync route %q (want e.g. json-to-csv or json+csv)", s)
}

// target is the side a one-way direction writes, and the side whose
// protected copies win.
func (d Direction) target(auth Side) Side {
	switch d {
	case AToB:
		return SideB
	case BToA:
		return SideA
	}
	if auth != SideNone {
		return auth
	}
	return SideA
}

// source is the side preferred when every other criterion ties.
func (d Direction) source() Side {
	if d == BToA {
		return SideB
	}
	return SideA
}

// Opposite swaps A and B; SideNone stays.
func (s Side) Opposite() Side {
	switch s {
	case SideA:
		return SideB
	case SideB:
		return SideA
	}
	return SideNone
}

// Reverse swaps From and To and flips a one-way direction. The result
// describes the same run with the stores taken in the other order.
func (r Route) Reverse() Route {
	out := Route{From: r.To, To: r.From, Direction: r.Direction}
	switch r.Direction {
	case AToB:
		out.Direction = BToA
	case BToA:
		out.Direction = AToB
	}
	return out
}
