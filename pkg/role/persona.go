package role

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Persona is one of the four fixed agent personalities.
type Persona struct {
	ID           string  `yaml:"id" json:"id"`
	Name         string  `yaml:"name" json:"name"`
	Description  string  `yaml:"description" json:"description"`
	Decisiveness float64 `yaml:"decisiveness" json:"decisiveness"`
	Energy       float64 `yaml:"energy" json:"energy"`
}

// Fixed persona ids. Task-type mapping targets exactly these four.
const (
	PersonaNavigator = "navigator"
	PersonaScholar   = "scholar"
	PersonaOperator  = "operator"
	PersonaAnchor    = "anchor"
)

// DefaultPersonas returns the built-in persona set.
func DefaultPersonas() map[string]Persona {
	return map[string]Persona{
		PersonaNavigator: {
			ID:           PersonaNavigator,
			Name:         "Navigator",
			Description:  "Balanced default for everyday requests",
			Decisiveness: 0.6,
			Energy:       0.6,
		},
		PersonaScholar: {
			ID:           PersonaScholar,
			Name:         "Scholar",
			Description:  "Methodical, source-driven research posture",
			Decisiveness: 0.4,
			Energy:       0.5,
		},
		PersonaOperator: {
			ID:           PersonaOperator,
			Name:         "Operator",
			Description:  "Terse, checklist-driven operational posture",
			Decisiveness: 0.9,
			Energy:       0.8,
		},
		PersonaAnchor: {
			ID:           PersonaAnchor,
			Name:         "Anchor",
			Description:  "Patient, step-by-step support posture",
			Decisiveness: 0.5,
			Energy:       0.4,
		},
	}
}

type personaFile struct {
	Personas []Persona `yaml:"personas"`
}

// LoadPersonas reads persona overrides from a YAML file and merges them
// over the defaults by id. Unknown ids are rejected: the persona set is
// fixed, only traits are tunable.
func LoadPersonas(path string) (map[string]Persona, error) {
	personas := DefaultPersonas()
	if path == "" {
		return personas, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read personas file: %w", err)
	}

	var file personaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse personas file: %w", err)
	}

	for _, override := range file.Personas {
		base, ok := personas[override.ID]
		if !ok {
			return nil, fmt.Errorf("unknown persona id: %s", override.ID)
		}
		if override.Name != "" {
			base.Name = override.Name
		}
		if override.Description != "" {
			base.Description = override.Description
		}
		if override.Decisiveness > 0 {
			base.Decisiveness = override.Decisiveness
		}
		if override.Energy > 0 {
			base.Energy = override.Energy
		}
		personas[override.ID] = base
	}
	return personas, nil
}

// personaFor maps a classification to the target persona. Urgency only
// matters for general and ops requests.
func personaFor(c Classification) string {
	switch c.TaskType {
	case TaskResearch:
		return PersonaScholar
	case TaskSupport:
		return PersonaAnchor
	case TaskOps:
		if c.Urgency == UrgencyLow {
			return PersonaNavigator
		}
		return PersonaOperator
	default:
		if c.Urgency == UrgencyHigh {
			return PersonaOperator
		}
		return PersonaNavigator
	}
}
