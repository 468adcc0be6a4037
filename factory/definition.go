/*
Package factory provides JSON to Go KPI definition conversion.

PURPOSE:
  Converts JSON KPI definitions into kpi.Definition values. Reward and
  penalty configuration lives with HR configuration management; the factory
  is the one place that turns it into typed Go structs, validating every
  rule program condition on the way in.

JSON SCHEMA:
  {
    "id": "kpi-sales",
    "name": "Quarterly sales",
    "unit": "USD",
    "reward_type": "percentage",
    "reward_amount": "1000000",
    "reward_threshold": "80",
    "max_reward": "2000000",
    "penalty_type": "fixed",
    "penalty_amount": "500000",
    "penalty_threshold": "60",
    "programs": [
      {
        "id": "stretch",
        "name": "Stretch bonus",
        "kind": "reward",
        "amount": "300000",
        "conditions": [
          {"metric": "achievementRate", "operator": "gte", "value": 110},
          {"metric": "department", "operator": "eq", "value": "Sales", "logical_operator": "AND"}
        ]
      }
    ]
  }

  Monetary fields are decimal strings. Omitted thresholds fall back to the
  calculator defaults (80 for reward, 60 for penalty).

USAGE:
  f := factory.NewDefinitionFactory()
  def, err := f.ParseDefinition(jsonString)

SEE ALSO:
  - kpi/types.go: Definition type
  - kpi/condition.go: Condition language
  - store/sqlite/sqlite.go: Stores definitions as config JSON
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/kpi-engine/kpi"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// DefinitionJSON is the JSON representation of a KPI definition.
type DefinitionJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Unit string `json:"unit,omitempty"`

	RewardType      string           `json:"reward_type,omitempty"` // fixed, variable, percentage
	RewardAmount    decimal.Decimal  `json:"reward_amount"`
	RewardThreshold *decimal.Decimal `json:"reward_threshold,omitempty"`
	MaxReward       *decimal.Decimal `json:"max_reward,omitempty"`

	PenaltyType      string           `json:"penalty_type,omitempty"` // fixed, variable
	PenaltyAmount    decimal.Decimal  `json:"penalty_amount"`
	PenaltyThreshold *decimal.Decimal `json:"penalty_threshold,omitempty"`
	MaxPenalty       *decimal.Decimal `json:"max_penalty,omitempty"`

	Programs []ProgramJSON `json:"programs,omitempty"`
}

// ProgramJSON represents a condition-gated reward or penalty program.
type ProgramJSON struct {
	ID         string          `json:"id"`
	Name       string          `json:"name,omitempty"`
	Kind       string          `json:"kind"` // reward, penalty
	Amount     decimal.Decimal `json:"amount"`
	Conditions []ConditionJSON `json:"conditions"`
}

// ConditionJSON is a condition as entered in the admin UI. Value is a number
// or a string; SecondValue is the upper bound for range.
type ConditionJSON struct {
	Metric          string `json:"metric"`
	Operator        string `json:"operator"`
	Value           any    `json:"value"`
	SecondValue     any    `json:"second_value,omitempty"`
	LogicalOperator string `json:"logical_operator,omitempty"`
}

// =============================================================================
// DEFINITION FACTORY
// =============================================================================

// DefinitionFactory converts JSON definitions to Go structs.
type DefinitionFactory struct{}

func NewDefinitionFactory() *DefinitionFactory {
	return &DefinitionFactory{}
}

// ParseDefinition parses a JSON string into a Definition.
func (f *DefinitionFactory) ParseDefinition(jsonStr string) (kpi.Definition, error) {
	var dj DefinitionJSON
	if err := json.Unmarshal([]byte(jsonStr), &dj); err != nil {
		return kpi.Definition{}, fmt.Errorf("failed to parse definition JSON: %w", err)
	}
	return f.FromJSON(dj)
}

// FromJSON converts DefinitionJSON to kpi.Definition.
func (f *DefinitionFactory) FromJSON(dj DefinitionJSON) (kpi.Definition, error) {
	if dj.ID == "" {
		return kpi.Definition{}, fmt.Errorf("definition id is required")
	}

	rewardType, err := parseRewardType(dj.RewardType)
	if err != nil {
		return kpi.Definition{}, err
	}
	penaltyType, err := parsePenaltyType(dj.PenaltyType)
	if err != nil {
		return kpi.Definition{}, err
	}

	def := kpi.Definition{
		ID:               dj.ID,
		Name:             dj.Name,
		Unit:             dj.Unit,
		RewardType:       rewardType,
		RewardAmount:     dj.RewardAmount,
		RewardThreshold:  dj.RewardThreshold,
		MaxReward:        dj.MaxReward,
		PenaltyType:      penaltyType,
		PenaltyAmount:    dj.PenaltyAmount,
		PenaltyThreshold: dj.PenaltyThreshold,
		MaxPenalty:       dj.MaxPenalty,
	}

	for i, pj := range dj.Programs {
		prog, err := f.ProgramFromJSON(pj)
		if err != nil {
			return kpi.Definition{}, fmt.Errorf("program %d: %w", i, err)
		}
		def.Programs = append(def.Programs, prog)
	}
	return def, nil
}

// ProgramFromJSON converts one program, validating its conditions.
func (f *DefinitionFactory) ProgramFromJSON(pj ProgramJSON) (kpi.RuleProgram, error) {
	var kind kpi.ProgramKind
	switch pj.Kind {
	case string(kpi.ProgramReward):
		kind = kpi.ProgramReward
	case string(kpi.ProgramPenalty):
		kind = kpi.ProgramPenalty
	default:
		return kpi.RuleProgram{}, fmt.Errorf("unknown program kind %q", pj.Kind)
	}

	conditions, err := f.ConditionsFromJSON(pj.Conditions)
	if err != nil {
		return kpi.RuleProgram{}, err
	}
	return kpi.RuleProgram{
		ID:         pj.ID,
		Name:       pj.Name,
		Kind:       kind,
		Amount:     pj.Amount,
		Conditions: conditions,
	}, nil
}

// ConditionsFromJSON builds a condition list. The first invalid entry fails
// the whole list.
func (f *DefinitionFactory) ConditionsFromJSON(cjs []ConditionJSON) ([]kpi.Condition, error) {
	out := make([]kpi.Condition, 0, len(cjs))
	for i, cj := range cjs {
		c, err := kpi.BuildCondition(cj.Metric, cj.Operator, cj.Value, cj.SecondValue, cj.LogicalOperator)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func parseRewardType(s string) (kpi.RewardType, error) {
	switch kpi.RewardType(s) {
	case kpi.RewardNone, kpi.RewardFixed, kpi.RewardVariable, kpi.RewardPercentage:
		return kpi.RewardType(s), nil
	}
	return "", fmt.Errorf("unknown reward type %q", s)
}

func parsePenaltyType(s string) (kpi.PenaltyType, error) {
	switch kpi.PenaltyType(s) {
	case kpi.PenaltyNone, kpi.PenaltyFixed, kpi.PenaltyVariable:
		return kpi.PenaltyType(s), nil
	}
	return "", fmt.Errorf("unknown penalty type %q", s)
}

// =============================================================================
// GO -> JSON
// =============================================================================

// ToJSON converts a Definition to DefinitionJSON.
func (f *DefinitionFactory) ToJSON(def kpi.Definition) DefinitionJSON {
	dj := DefinitionJSON{
		ID:               def.ID,
		Name:             def.Name,
		Unit:             def.Unit,
		RewardType:       string(def.RewardType),
		RewardAmount:     def.RewardAmount,
		RewardThreshold:  def.RewardThreshold,
		MaxReward:        def.MaxReward,
		PenaltyType:      string(def.PenaltyType),
		PenaltyAmount:    def.PenaltyAmount,
		PenaltyThreshold: def.PenaltyThreshold,
		MaxPenalty:       def.MaxPenalty,
	}
	for _, p := range def.Programs {
		pj := ProgramJSON{ID: p.ID, Name: p.Name, Kind: string(p.Kind), Amount: p.Amount}
		for _, c := range p.Conditions {
			pj.Conditions = append(pj.Conditions, ConditionToJSON(c))
		}
		dj.Programs = append(dj.Programs, pj)
	}
	return dj
}

// ConditionToJSON is the inverse of BuildCondition.
func ConditionToJSON(c kpi.Condition) ConditionJSON {
	cj := ConditionJSON{
		Metric:          c.Metric,
		Operator:        string(c.Operator),
		LogicalOperator: string(c.Logical),
	}
	switch v := c.Value.(type) {
	case kpi.Number:
		cj.Value = float64(v)
	case kpi.Text:
		cj.Value = string(v)
	case kpi.Range:
		cj.Value = v.Min
		cj.SecondValue = v.Max
	}
	return cj
}

// MarshalDefinition renders a definition as its stored JSON form.
func (f *DefinitionFactory) MarshalDefinition(def kpi.Definition) (string, error) {
	b, err := json.Marshal(f.ToJSON(def))
	if err != nil {
		return "", fmt.Errorf("failed to encode definition: %w", err)
	}
	return string(b), nil
}
