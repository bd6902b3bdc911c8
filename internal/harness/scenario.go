package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/stockline/internal/domain"
	"github.com/roach88/stockline/internal/session"
)

// Scenario is a scripted conversation.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description"`

	// Identity is the default sender for steps that name none.
	Identity string `yaml:"identity,omitempty"`

	// Catalog replaces the default test catalog when present.
	Catalog []CatalogProduct `yaml:"catalog,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions check the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// CatalogProduct seeds one product. Prices are in minor units.
type CatalogProduct struct {
	ID           string `yaml:"id"`
	SKU          string `yaml:"sku"`
	Name         string `yaml:"name"`
	Vendor       string `yaml:"vendor,omitempty"`
	Units        string `yaml:"units,omitempty"`
	UnitPrice    int64  `yaml:"unit_price,omitempty"`
	Stock        int    `yaml:"stock"`
	ReorderLevel int    `yaml:"reorder_level,omitempty"`
}

func (p CatalogProduct) product() domain.Product {
	return domain.Product{
		ID:           p.ID,
		SKU:          p.SKU,
		Name:         p.Name,
		Vendor:       p.Vendor,
		Units:        p.Units,
		UnitPrice:    domain.Money(p.UnitPrice),
		Stock:        p.Stock,
		ReorderLevel: p.ReorderLevel,
	}
}

// Step is one action in a scenario. Exactly one of Say, Choose and
// Advance is set.
type Step struct {
	// Identity overrides the scenario identity for this step.
	Identity string `yaml:"identity,omitempty"`

	// Say sends a text message. A pointer so an empty message can be sent.
	Say *string `yaml:"say,omitempty"`

	// Choose taps the Nth button (1-based) of the sender's most recent
	// reply that had buttons.
	Choose int `yaml:"choose,omitempty"`

	// Advance moves the clock forward, e.g. "31m".
	Advance string `yaml:"advance,omitempty"`

	// Expect checks the turn's outcome.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect checks one turn. Unset fields are not checked.
type Expect struct {
	Flow          string `yaml:"flow,omitempty"`
	ReplyContains string `yaml:"reply_contains,omitempty"`
	Choices       *int   `yaml:"choices,omitempty"`
}

// Assertion checks the final state.
type Assertion struct {
	// Type is one of the Assert constants.
	Type string `yaml:"type"`

	// Product is the product id (stock, audit_count).
	Product string `yaml:"product,omitempty"`

	// Identity is the session owner (flow, actor).
	Identity string `yaml:"identity,omitempty"`

	// Equals is the expected count or quantity.
	Equals *int `yaml:"equals,omitempty"`

	// Value is the expected string (flow, actor).
	Value string `yaml:"value,omitempty"`
}

// Assertion types.
const (
	AssertStock            = "stock"
	AssertAuditCount       = "audit_count"
	AssertFlow             = "flow"
	AssertActor            = "actor"
	AssertOrderCount       = "order_count"
	AssertPendingApprovals = "pending_approvals"
)

// LoadScenario reads a scenario file. Unknown fields are rejected so a
// misspelled key fails loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario.
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
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, p := range s.Catalog {
		if p.ID == "" || p.SKU == "" || p.Name == "" {
			return fmt.Errorf("catalog[%d]: id, sku and name are required", i)
		}
	}

	for i, step := range s.Steps {
		set := 0
		if step.Say != nil {
			set++
		}
		if step.Choose != 0 {
			set++
			if step.Choose < 0 {
				return fmt.Errorf("steps[%d]: choose must be positive", i)
			}
		}
		if step.Advance != "" {
			set++
			if _, err := time.ParseDuration(step.Advance); err != nil {
				return fmt.Errorf("steps[%d]: advance: %w", i, err)
			}
			if step.Expect != nil {
				return fmt.Errorf("steps[%d]: advance takes no expect", i)
			}
		}
		if set != 1 {
			return fmt.Errorf("steps[%d]: exactly one of say, choose and advance is required", i)
		}
		if step.Advance == "" && step.Identity == "" && s.Identity == "" {
			return fmt.Errorf("steps[%d]: identity is required (set it on the step or the scenario)", i)
		}
		if step.Expect != nil && step.Expect.Flow != "" && !session.Flow(step.Expect.Flow).Valid() {
			return fmt.Errorf("steps[%d].expect: unknown flow %q", i, step.Expect.Flow)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertStock, AssertAuditCount:
		if a.Product == "" || a.Equals == nil {
			return fmt.Errorf("assertions[%d]: product and equals are required for %s", index, a.Type)
		}
	case AssertFlow, AssertActor:
		if a.Identity == "" {
			return fmt.Errorf("assertions[%d]: identity is required for %s", index, a.Type)
		}
		if a.Type == AssertFlow && !session.Flow(a.Value).Valid() {
			return fmt.Errorf("assertions[%d]: unknown flow %q", index, a.Value)
		}
	case AssertOrderCount, AssertPendingApprovals:
		if a.Equals == nil {
			return fmt.Errorf("assertions[%d]: equals is required for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
