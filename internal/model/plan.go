package model

import "strings"

// PlanLimits caps what an account can create and how many clicks one billing
// window admits. Values mirror the subscription tiers sold on the dashboard.
type PlanLimits struct {
	Funnels int64 // 0 = unlimited
	Clicks  int64
}

var planLimits = map[string]PlanLimits{
	"starter":    {Funnels: 10, Clicks: 10_000},
	"pro":        {Funnels: 0, Clicks: 100_000},
	"enterprise": {Funnels: 0, Clicks: 1_000_000},
}

// LimitsForPlan resolves a plan name case-insensitively. ok is false for
// unknown plans so callers can reject instead of guessing a tier.
func LimitsForPlan(name string) (PlanLimits, bool) {
	l, ok := planLimits[strings.ToLower(strings.TrimSpace(name))]
	return l, ok
}
