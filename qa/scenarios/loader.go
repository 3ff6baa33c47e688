package scenarios

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/wastefleet/core/bucket"
)

type BinDef struct {
	Code      string   `yaml:"code"`
	Name      string   `yaml:"name"`
	Owner     string   `yaml:"owner"`
	Capacity  float64  `yaml:"capacity"`
	Fill      float64  `yaml:"fill"`
	Latitude  *float64 `yaml:"latitude,omitempty"`
	Longitude *float64 `yaml:"longitude,omitempty"`
}

func (b BinDef) ToInput() bucket.CreateInput {
	name := b.Name
	if name == "" {
		name = "Bin " + b.Code
	}
	owner := b.Owner
	if owner == "" {
		owner = "qa"
	}
	return bucket.CreateInput{
		BucketID:       b.Code,
		Name:           name,
		UserID:         owner,
		Capacity:       b.Capacity,
		FillPercentage: b.Fill,
		Latitude:       b.Latitude,
		Longitude:      b.Longitude,
	}
}

type Action string

const (
	ActionFill    Action = "fill"
	ActionTrash   Action = "trash"
	ActionCollect Action = "collect"
	ActionDrivers Action = "drivers"
	ActionSweep   Action = "sweep"
)

// StepDef is one event replayed against the fleet. Which fields apply
// depends on Action.
type StepDef struct {
	Action    Action   `yaml:"action"`
	Bin       string   `yaml:"bin,omitempty"`
	Fill      float64  `yaml:"fill,omitempty"`
	TrashType string   `yaml:"trash_type,omitempty"`
	Weight    float64  `yaml:"weight,omitempty"`
	Drivers   []string `yaml:"drivers,omitempty"`
}

func (s StepDef) validate() error {
	switch s.Action {
	case ActionFill, ActionTrash, ActionCollect:
		if s.Bin == "" {
			return fmt.Errorf("%s step needs a bin", s.Action)
		}
	case ActionDrivers, ActionSweep:
	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
	return nil
}

type Expected struct {
	// Assignments counts collection requests per driver.
	Assignments map[string]int `yaml:"assignments"`
	Collected   int            `yaml:"collected"`
	Open        int            `yaml:"open"`
	// Assigned lists the bin codes still waiting for a driver at the end.
	Assigned []string `yaml:"assigned"`
}

type Scenario struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Drivers     []string  `yaml:"drivers"`
	Bins        []BinDef  `yaml:"bins"`
	Steps       []StepDef `yaml:"steps"`
	Expected    Expected  `yaml:"expected"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	for i, st := range sc.Steps {
		if err := st.validate(); err != nil {
			return nil, fmt.Errorf("%s: step %d: %w", path, i, err)
		}
	}
	return &sc, nil
}
