/*
calculator.go - Reward and penalty computation

PURPOSE:
  Turns a record and its definition into a Result. Pure apart from the
  CalculatedAt timestamp, which comes from an injectable clock.

FORMULAS:
  achievementRate = target > 0 ? actual / target * 100 : 0

  Reward (only when rate >= rewardThreshold, default 80):
    fixed       rewardAmount
    percentage  rewardAmount * rate/100
    variable    rewardAmount * min(rate/100, 1.5)

  Penalty (only when rate < penaltyThreshold, default 60):
    fixed       penaltyAmount
    variable    penaltyAmount * min((threshold - rate)/20, 2)

  Matching rule programs add their amount to reward or penalty. Both sides
  are then clamped to maxReward / maxPenalty when set, and rounded to cents.

  net = reward - penalty. Negative net is meaningful and never floored.
*/
package kpi

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	hundred              = decimal.NewFromInt(100)
	twenty               = decimal.NewFromInt(20)
	variableRewardCap    = decimal.NewFromFloat(1.5)
	variablePenaltyCap   = decimal.NewFromInt(2)
	gradeExcellentCutoff = decimal.NewFromInt(100)
	gradeGoodCutoff      = decimal.NewFromInt(80)
	gradeAcceptCutoff    = decimal.NewFromInt(60)
)

// AmountPlaces is the rounding applied to monetary outputs.
const AmountPlaces = 2

// Calculator computes results. The zero value uses time.Now.
type Calculator struct {
	Now func() time.Time
}

func NewCalculator() *Calculator {
	return &Calculator{Now: time.Now}
}

// AchievementRate returns actual as a percentage of target, or zero when
// the target is not positive.
func AchievementRate(target, actual decimal.Decimal) decimal.Decimal {
	if !target.IsPositive() {
		return decimal.Zero
	}
	return actual.Div(target).Mul(hundred)
}

// GradeFor buckets an achievement rate.
func GradeFor(rate decimal.Decimal) Grade {
	switch {
	case rate.GreaterThanOrEqual(gradeExcellentCutoff):
		return GradeExcellent
	case rate.GreaterThanOrEqual(gradeGoodCutoff):
		return GradeGood
	case rate.GreaterThanOrEqual(gradeAcceptCutoff):
		return GradeAcceptable
	}
	return GradePoor
}

// Calculate evaluates one record. emp may be the zero value when rule
// programs do not reference department data.
func (c *Calculator) Calculate(rec Record, def Definition, emp Employee) Result {
	rate := AchievementRate(rec.TargetValue, rec.ActualValue)

	reward := baseReward(def, rate)
	penalty := basePenalty(def, rate)

	var matched []string
	if len(def.Programs) > 0 {
		bag := dataBagFor(rec, emp, rate)
		for _, p := range def.Programs {
			if !EvaluateAll(p.Conditions, bag) {
				continue
			}
			matched = append(matched, p.ID)
			switch p.Kind {
			case ProgramReward:
				reward = reward.Add(p.Amount)
			case ProgramPenalty:
				penalty = penalty.Add(p.Amount)
			}
		}
	}

	reward = clamp(reward, def.MaxReward).Round(AmountPlaces)
	penalty = clamp(penalty, def.MaxPenalty).Round(AmountPlaces)

	return Result{
		KpiRecordID:     rec.ID,
		KpiID:           rec.KpiID,
		EmployeeID:      rec.EmployeeID,
		Period:          rec.Period,
		AchievementRate: rate,
		RewardAmount:    reward,
		PenaltyAmount:   penalty,
		NetAmount:       reward.Sub(penalty),
		Grade:           GradeFor(rate),
		MatchedPrograms: matched,
		Status:          ResultCalculated,
		CalculatedAt:    c.now(),
	}
}

func (c *Calculator) now() time.Time {
	if c == nil || c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func baseReward(def Definition, rate decimal.Decimal) decimal.Decimal {
	if rate.LessThan(def.rewardThreshold()) {
		return decimal.Zero
	}
	ratio := rate.Div(hundred)
	switch def.RewardType {
	case RewardFixed:
		return def.RewardAmount
	case RewardPercentage:
		return def.RewardAmount.Mul(ratio)
	case RewardVariable:
		return def.RewardAmount.Mul(decimal.Min(ratio, variableRewardCap))
	}
	return decimal.Zero
}

func basePenalty(def Definition, rate decimal.Decimal) decimal.Decimal {
	threshold := def.penaltyThreshold()
	if !rate.LessThan(threshold) {
		return decimal.Zero
	}
	switch def.PenaltyType {
	case PenaltyFixed:
		return def.PenaltyAmount
	case PenaltyVariable:
		multiplier := decimal.Min(threshold.Sub(rate).Div(twenty), variablePenaltyCap)
		return def.PenaltyAmount.Mul(multiplier)
	}
	return decimal.Zero
}

// clamp caps v at max. A nil or non-positive max means no cap.
func clamp(v decimal.Decimal, max *decimal.Decimal) decimal.Decimal {
	if max == nil || !max.IsPositive() {
		return v
	}
	return decimal.Min(v, *max)
}

func dataBagFor(rec Record, emp Employee, rate decimal.Decimal) DataBag {
	return DataBag{
		"achievementRate": rate.InexactFloat64(),
		"actualValue":     rec.ActualValue.InexactFloat64(),
		"targetValue":     rec.TargetValue.InexactFloat64(),
		"period":          rec.Period,
		"kpiId":           rec.KpiID,
		"employeeId":      rec.EmployeeID,
		"department":      emp.Department,
		"grade":           string(GradeFor(rate)),
	}
}
