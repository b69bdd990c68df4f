package config

import (
	"fmt"
	"strconv"
	"strings"
)

// PhaseRange selects which roadmap phases to execute. The zero value selects
// every phase. To == 0 means no upper bound.
type PhaseRange struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

// ParsePhaseRange parses the --phases selector: "3", "2-4", "2-", or "-4".
func ParsePhaseRange(s string) (PhaseRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PhaseRange{}, nil
	}

	if !strings.Contains(s, "-") {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return PhaseRange{}, fmt.Errorf("%w: %q", ErrInvalidPhaseRange, s)
		}
		return PhaseRange{From: n, To: n}, nil
	}

	parts := strings.SplitN(s, "-", 2)
	var r PhaseRange
	if parts[0] != "" {
		n, err := strconv.Atoi(parts[0])
		if err != nil || n < 1 {
			return PhaseRange{}, fmt.Errorf("%w: %q", ErrInvalidPhaseRange, s)
		}
		r.From = n
	}
	if parts[1] != "" {
		n, err := strconv.Atoi(parts[1])
		if err != nil || n < 1 {
			return PhaseRange{}, fmt.Errorf("%w: %q", ErrInvalidPhaseRange, s)
		}
		r.To = n
	}
	if r.To != 0 && r.From != 0 && r.To < r.From {
		return PhaseRange{}, fmt.Errorf("%w: %q", ErrInvalidPhaseRange, s)
	}
	return r, nil
}

// Includes reports whether phase number n falls in the range.
func (r PhaseRange) Includes(n int) bool {
	if r.From != 0 && n < r.From {
		return false
	}
	if r.To != 0 && n > r.To {
		return false
	}
	return true
}

// IsAll reports whether the range selects every phase.
func (r PhaseRange) IsAll() bool {
	return r.From == 0 && r.To == 0
}

// String renders the selector in the flag syntax.
func (r PhaseRange) String() string {
	switch {
	case r.IsAll():
		return "all"
	case r.From == r.To:
		return strconv.Itoa(r.From)
	case r.To == 0:
		return fmt.Sprintf("%d-", r.From)
	case r.From == 0:
		return fmt.Sprintf("-%d", r.To)
	default:
		return fmt.Sprintf("%d-%d", r.From, r.To)
	}
}

// UnmarshalYAML accepts either the flag syntax ("2-4") or a {from, to} map.
func (r *PhaseRange) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		parsed, perr := ParsePhaseRange(s)
		if perr != nil {
			return perr
		}
		*r = parsed
		return nil
	}

	var raw struct {
		From int `yaml:"from"`
		To   int `yaml:"to"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	r.From = raw.From
	r.To = raw.To
	return nil
}
