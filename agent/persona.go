package agent

import (
	"fmt"
	"strings"
)

// Persona describes who a participant is.
type Persona struct {
	Name       string   `yaml:"name"`
	Age        int      `yaml:"age"`
	Occupation string   `yaml:"occupation"`
	Traits     []string `yaml:"traits"`
	Interests  []string `yaml:"interests"`
}

// Validate reports missing mandatory fields.
func (p Persona) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("persona name is required")
	}
	if strings.TrimSpace(p.Occupation) == "" {
		return fmt.Errorf("persona %s: occupation is required", p.Name)
	}
	return nil
}

// Lisa is a data scientist.
func Lisa() Persona {
	return Persona{
		Name:       "Lisa",
		Age:        28,
		Occupation: "data scientist",
		Traits:     []string{"curious", "analytical", "patient when explaining numbers"},
		Interests:  []string{"machine learning", "experiment design", "hiking"},
	}
}

// Oscar is an architect.
func Oscar() Persona {
	return Persona{
		Name:       "Oscar",
		Age:        30,
		Occupation: "architect",
		Traits:     []string{"creative", "detail oriented", "a little sarcastic"},
		Interests:  []string{"sustainable building", "urban design", "jazz"},
	}
}

// Emma is an HR manager.
func Emma() Persona {
	return Persona{
		Name:       "Emma",
		Age:        35,
		Occupation: "HR manager",
		Traits:     []string{"empathetic", "diplomatic", "organised"},
		Interests:  []string{"team culture", "coaching", "yoga"},
	}
}

// Derek is an IT manager.
func Derek() Persona {
	return Persona{
		Name:       "Derek",
		Age:        42,
		Occupation: "IT manager",
		Traits:     []string{"pragmatic", "direct", "risk averse"},
		Interests:  []string{"infrastructure", "security", "cycling"},
	}
}

// DefaultRoster returns the built-in chat room participants.
func DefaultRoster() []Persona {
	return []Persona{Lisa(), Oscar(), Emma(), Derek()}
}

// BuiltinPersona looks up a built-in persona by case-insensitive name.
func BuiltinPersona(name string) (Persona, bool) {
	for _, p := range DefaultRoster() {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Persona{}, false
}
