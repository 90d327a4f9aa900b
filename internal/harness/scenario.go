package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of ledger operations with expected
// outcomes and assertions on the final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// CommissionRate overrides the default rate. Optional.
	CommissionRate string `yaml:"commission_rate,omitempty"`

	// Codes are handed out as referral codes in registration order.
	// Once exhausted, codes continue as C0000001, C0000002, ...
	Codes []string `yaml:"codes,omitempty"`

	// Setup steps establish initial state and must succeed.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow steps are executed after setup and may carry expectations.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step invokes one ledger operation.
type Step struct {
	// Action is one of register, refer, resolve, pay, gc, advance.
	Action string `yaml:"action"`

	// Args are the operation arguments.
	Args map[string]any `yaml:"args"`

	// Expect validates the outcome. If nil, any non-error outcome passes.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected outcome of a step.
type Expect struct {
	// Status is the expected outcome status, or "error".
	Status string `yaml:"status"`

	// Error is the expected error code when Status is "error".
	Error string `yaml:"error,omitempty"`

	// Result is a subset match on the step result.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type is one of aggregate, referral, pending_state, row_count.
	Type string `yaml:"type"`

	// Referrer is the referrer id (aggregate).
	Referrer int64 `yaml:"referrer,omitempty"`

	// User is the subject user id (referral, pending_state).
	User int64 `yaml:"user,omitempty"`

	// Table is the table name (row_count).
	Table string `yaml:"table,omitempty"`

	// Expect holds expected field values (aggregate, referral).
	Expect map[string]any `yaml:"expect,omitempty"`

	// State is the expected pending state (pending_state).
	State string `yaml:"state,omitempty"`

	// Count is the expected row count (row_count).
	Count int `yaml:"count,omitempty"`
}

// Step actions.
const (
	ActionRegister = "register"
	ActionRefer    = "refer"
	ActionResolve  = "resolve"
	ActionPay      = "pay"
	ActionGC       = "gc"
	ActionAdvance  = "advance"
)

// Assertion types.
const (
	AssertAggregate    = "aggregate"
	AssertReferral     = "referral"
	AssertPendingState = "pending_state"
	AssertRowCount     = "row_count"
)

var knownActions = map[string]bool{
	ActionRegister: true,
	ActionRefer:    true,
	ActionResolve:  true,
	ActionPay:      true,
	ActionGC:       true,
	ActionAdvance:  true,
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if err := validateStep(fmt.Sprintf("setup[%d]", i), step); err != nil {
			return err
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(fmt.Sprintf("flow[%d]", i), step); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(where string, step Step) error {
	if !knownActions[step.Action] {
		return fmt.Errorf("%s: unknown action %q", where, step.Action)
	}
	if step.Args == nil {
		return fmt.Errorf("%s: args is required (use empty map if no args)", where)
	}
	if step.Expect != nil && step.Expect.Status == "" {
		return fmt.Errorf("%s.expect: status is required", where)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertAggregate:
		if a.Referrer <= 0 {
			return fmt.Errorf("assertions[%d]: referrer is required for aggregate", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for aggregate", index)
		}
	case AssertReferral:
		if a.User <= 0 {
			return fmt.Errorf("assertions[%d]: user is required for referral", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for referral", index)
		}
	case AssertPendingState:
		if a.User <= 0 || a.State == "" {
			return fmt.Errorf("assertions[%d]: user and state are required for pending_state", index)
		}
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for row_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
