package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/NexeraDigital/get-shit-done/pkg/state"
)

// ErrNoRoadmap means the roadmap command produced nothing parseable.
var ErrNoRoadmap = errors.New("no roadmap found in agent output")

type roadmapDocument struct {
	Phases []roadmapPhase `json:"phases"`
}

type roadmapPhase struct {
	Number int    `json:"number"`
	Name   string `json:"name"`
}

// ParseRoadmap extracts the phase sequence from the roadmap command's result
// text: a fenced JSON block first, then the whole text as JSON. Phases are
// renumbered sequentially from 1 when the agent left numbers out.
func ParseRoadmap(text string) ([]state.Phase, error) {
	var doc roadmapDocument
	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		if err := json.Unmarshal([]byte(m[1]), &doc); err != nil {
			return nil, fmt.Errorf("%w: fenced block is not a roadmap: %v", ErrNoRoadmap, err)
		}
	} else if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &doc); err != nil {
		return nil, ErrNoRoadmap
	}

	if len(doc.Phases) == 0 {
		return nil, ErrNoRoadmap
	}

	phases := make([]state.Phase, 0, len(doc.Phases))
	for i, p := range doc.Phases {
		number := p.Number
		if number <= 0 {
			number = i + 1
		}
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: phase %d has no name", ErrNoRoadmap, number)
		}
		phases = append(phases, state.NewPhase(number, name))
	}

	for i := 1; i < len(phases); i++ {
		if phases[i].Number <= phases[i-1].Number {
			return nil, fmt.Errorf("%w: phase numbers are not increasing", ErrNoRoadmap)
		}
	}
	return phases, nil
}
