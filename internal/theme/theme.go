// Package theme holds the process-wide light/dark display preference.
package theme

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Mode is a display theme
type Mode int32

const (
	Light Mode = iota
	Dark
)

func (m Mode) String() string {
	if m == Dark {
		return "dark"
	}
	return "light"
}

var current atomic.Int32

// Init sets the preference at startup
func Init(m Mode) { current.Store(int32(m)) }

// Current returns the active preference
func Current() Mode { return Mode(current.Load()) }

// Toggle flips the preference and returns the new value
func Toggle() Mode {
	for {
		old := current.Load()
		next := int32(Light)
		if Mode(old) == Light {
			next = int32(Dark)
		}
		if current.CompareAndSwap(old, next) {
			return Mode(next)
		}
	}
}

// Reset restores the light theme
func Reset() { current.Store(int32(Light)) }

// ParseMode parses "light" or "dark"; empty input means light
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "light":
		return Light, nil
	case "dark":
		return Dark, nil
	default:
		return Light, fmt.Errorf("unknown theme %q", s)
	}
}
