// Package venue enumerates the derivatives venues the bot can trade on.
package venue

import (
	"fmt"
	"strings"
)

// Venue identifies one derivatives exchange.
type Venue string

const (
	Aster       Venue = "aster"
	Hyperliquid Venue = "hyperliquid"
	Lighter     Venue = "lighter"
)

// All returns every supported venue in a stable order.
func All() []Venue {
	return []Venue{Aster, Hyperliquid, Lighter}
}

func (v Venue) String() string { return string(v) }

func (v Venue) Valid() bool {
	switch v {
	case Aster, Hyperliquid, Lighter:
		return true
	default:
		return false
	}
}

// Parse maps a config string onto a known venue.
func Parse(s string) (Venue, error) {
	v := Venue(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("unknown venue %q", s)
	}
	return v, nil
}

// ParseList parses and de-duplicates a list of venue names.
func ParseList(names []string) ([]Venue, error) {
	seen := make(map[Venue]bool, len(names))
	out := make([]Venue, 0, len(names))
	for _, n := range names {
		v, err := Parse(n)
		if err != nil {
			return nil, err
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out, nil
}
