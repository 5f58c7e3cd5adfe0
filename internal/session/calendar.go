package session

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// WindowSpec is a wall-clock session range in "HH:MM-HH:MM" form,
// half-open.
type WindowSpec string

func (w WindowSpec) parse() (window, error) {
	parts := strings.SplitN(strings.TrimSpace(string(w)), "-", 2)
	if len(parts) != 2 {
		return window{}, fmt.Errorf("invalid window %q: want HH:MM-HH:MM", w)
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return window{}, err
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return window{}, err
	}
	if end.hour*60+end.min <= start.hour*60+start.min {
		return window{}, fmt.Errorf("invalid window %q: end must be after start", w)
	}
	return window{start: start, end: end}, nil
}

func parseClock(s string) (clock, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return clock{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return clock{}, fmt.Errorf("invalid time %q: out of range", s)
	}
	return clock{hour: h, min: m}, nil
}

// Calendar defines the exchange timezone and its three session windows.
type Calendar struct {
	Timezone   string     `yaml:"timezone"`
	Premarket  WindowSpec `yaml:"premarket"`
	Regular    WindowSpec `yaml:"regular"`
	AfterHours WindowSpec `yaml:"after_hours"`
}

// DefaultCalendar is the US equities session layout.
func DefaultCalendar() Calendar {
	return Calendar{
		Timezone:   "America/New_York",
		Premarket:  "04:00-09:30",
		Regular:    "09:30-16:00",
		AfterHours: "16:00-20:00",
	}
}

// LoadCalendar reads a calendar from a YAML file. Fields left empty fall
// back to the default calendar.
func LoadCalendar(path string) (Calendar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Calendar{}, fmt.Errorf("read calendar file: %w", err)
	}
	cal := DefaultCalendar()
	if err := yaml.Unmarshal(raw, &cal); err != nil {
		return Calendar{}, fmt.Errorf("parse calendar file: %w", err)
	}
	return cal, nil
}
