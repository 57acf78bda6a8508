// Package businessflow contains the core business logic flows for delivery automation
package businessflow

import (
	"fmt"
	"time"

	"github.com/amirphl/Kagemusha/models"
)

// Default recheck intervals recommended by the rule engine
const (
	RecheckIntervalShort  = 15 * time.Minute
	RecheckIntervalMedium = 30 * time.Minute
	RecheckIntervalLong   = 60 * time.Minute
)

// RuleContext is the rule engine's input, constructed fresh per evaluation
// from the delivery's current counters, the account thresholds, and the
// failure history derived from the delivery log.
type RuleContext struct {
	Thresholds models.AccountThresholds
	// ConsecutiveFailures counts prior unsuccessful cycles for the current content
	ConsecutiveFailures int
	CurrentSpent        float64
	CurrentLeads        int64
	CurrentCostPerLead  float64
	// History is available for richer strategies; the baseline policy only
	// needs the scalar fields above.
	History []*models.DeliveryLog
}

// RuleResult is the rule engine's output
type RuleResult struct {
	Decision    string
	IsEffective bool
	// NextCheckIn is the recommended recheck interval; zero means the rule
	// engine schedules no recheck and leaves follow-up to the controller.
	NextCheckIn time.Duration
	Reason      string
}

// EvaluateDelivery maps current campaign performance, thresholds, and failure
// history to a decision. Rules are evaluated in order and the first match
// wins; there is no scoring across rules.
//
// Rules 2 and 3 deliberately compare against MaxFailRetries-1: the
// MaxFailRetries-th failure in a row triggers the switch, because the cycle
// being evaluated is itself one more failure on top of ConsecutiveFailures.
func EvaluateDelivery(ctx RuleContext) RuleResult {
	t := ctx.Thresholds

	// Rule 1: below the spend floor there is too little data to judge.
	if ctx.CurrentSpent < t.MinConsumption {
		return RuleResult{
			Decision:    models.DeliveryDecisionContinue,
			NextCheckIn: RecheckIntervalMedium,
			Reason: fmt.Sprintf("spend ¥%.2f below threshold ¥%.2f, continue monitoring",
				ctx.CurrentSpent, t.MinConsumption),
		}
	}

	// Rule 2: spend is meaningful but produced zero conversions.
	if ctx.CurrentLeads == 0 {
		if ctx.ConsecutiveFailures >= t.MaxFailRetries-1 {
			return RuleResult{
				Decision: models.DeliveryDecisionSwitchWork,
				Reason: fmt.Sprintf("no leads after spending ¥%.2f, %d consecutive failures reached retry budget %d, switching content",
					ctx.CurrentSpent, ctx.ConsecutiveFailures+1, t.MaxFailRetries),
			}
		}
		return RuleResult{
			Decision: models.DeliveryDecisionRestart,
			Reason: fmt.Sprintf("no leads after spending ¥%.2f, failure %d of %d, restarting with a fresh batch",
				ctx.CurrentSpent, ctx.ConsecutiveFailures+1, t.MaxFailRetries),
		}
	}

	// Rule 3: leads exist but each one costs too much.
	if ctx.CurrentCostPerLead > t.MaxCostPerLead {
		if ctx.ConsecutiveFailures >= t.MaxFailRetries-1 {
			return RuleResult{
				Decision: models.DeliveryDecisionSwitchWork,
				Reason: fmt.Sprintf("cost per lead ¥%.2f over ceiling ¥%.2f, %d consecutive failures reached retry budget %d, switching content",
					ctx.CurrentCostPerLead, t.MaxCostPerLead, ctx.ConsecutiveFailures+1, t.MaxFailRetries),
			}
		}
		return RuleResult{
			Decision: models.DeliveryDecisionRestart,
			Reason: fmt.Sprintf("cost per lead ¥%.2f over ceiling ¥%.2f, failure %d of %d, restarting with a fresh batch",
				ctx.CurrentCostPerLead, t.MaxCostPerLead, ctx.ConsecutiveFailures+1, t.MaxFailRetries),
		}
	}

	// Rule 4: the delivery is effective.
	return RuleResult{
		Decision:    models.DeliveryDecisionContinue,
		IsEffective: true,
		NextCheckIn: RecheckIntervalLong,
		Reason: fmt.Sprintf("effective: %d leads at ¥%.2f per lead (ceiling ¥%.2f), continue",
			ctx.CurrentLeads, ctx.CurrentCostPerLead, t.MaxCostPerLead),
	}
}

// CalculatePerformanceScore produces a 0-100 ranking score for reporting.
// It plays no part in the continue/restart/switch decision.
func CalculatePerformanceScore(costPerLead, maxCostPerLead float64, leads int64) float64 {
	if leads == 0 {
		return 0
	}

	base := 100 - (costPerLead/maxCostPerLead)*50
	if base < 0 {
		base = 0
	}

	bonus := float64(leads) * 2
	if bonus > 20 {
		bonus = 20
	}

	score := base + bonus
	if score > 100 {
		score = 100
	}
	return score
}

// ShouldSwitchWork reports whether the consecutive-failure budget is already
// spent. Note this is one unit stricter than the inline comparison inside
// EvaluateDelivery, which fires on the failure that is about to spend it.
func ShouldSwitchWork(consecutiveFailures, maxFailRetries int) bool {
	return consecutiveFailures >= maxFailRetries
}

// NextCheckInterval recommends how long to wait before re-evaluating, based
// on how far spend has progressed toward the floor.
func NextCheckInterval(spent, minConsumption float64, isEffective bool) time.Duration {
	if spent < minConsumption/2 {
		return RecheckIntervalShort
	}
	if spent < minConsumption {
		return RecheckIntervalMedium
	}
	if isEffective {
		return RecheckIntervalLong
	}
	return RecheckIntervalMedium
}

// ConsecutiveFailures derives the current content's unbroken failure streak
// from the delivery log tail (newest first). Restart and switch decisions
// count as failures; an effective cycle breaks the streak; below-floor
// continue cycles are neutral and neither count nor break it.
func ConsecutiveFailures(recent []*models.DeliveryLog) int {
	failures := 0
	for _, entry := range recent {
		if entry.IsEffective {
			break
		}
		switch entry.Decision {
		case models.DeliveryDecisionRestart, models.DeliveryDecisionSwitchWork:
			failures++
		}
	}
	return failures
}
