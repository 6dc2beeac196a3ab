package entitlements

import (
	"strings"
)

type Plan string

const (
	PlanFree       Plan = "free"
	PlanPremium    Plan = "premium"
	PlanPremiumMax Plan = "premium_max"
)

// Features describes what a plan unlocks. Limits are per calendar month
// unless stated otherwise; 0 means unlimited.
type Features struct {
	TeamMembers     int  `json:"team_members"`
	APIRequests     int  `json:"api_requests"`
	Projects        int  `json:"projects"`
	PrioritySupport bool `json:"priority_support"`
	CustomDomain    bool `json:"custom_domain"`
}

// ForPlan returns the feature set for a given plan. Unknown plan names fall
// back to the free tier.
func ForPlan(plan Plan) Features {
	switch plan {
	case PlanPremiumMax:
		return Features{
			TeamMembers:     0,
			APIRequests:     0,
			Projects:        0,
			PrioritySupport: true,
			CustomDomain:    true,
		}
	case PlanPremium:
		return Features{
			TeamMembers:     10,
			APIRequests:     100000,
			Projects:        25,
			PrioritySupport: true,
			CustomDomain:    false,
		}
	default:
		return Features{
			TeamMembers:     1,
			APIRequests:     1000,
			Projects:        3,
			PrioritySupport: false,
			CustomDomain:    false,
		}
	}
}

// Normalize maps arbitrary plan identifiers (DB values, price nicknames) onto
// a known plan constant.
func Normalize(name string) Plan {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case string(PlanPremiumMax), "premium-max", "premiummax":
		return PlanPremiumMax
	case string(PlanPremium):
		return PlanPremium
	default:
		return PlanFree
	}
}

// Allows reports whether the plan covers a given project count. Used as a
// cheap guard before creating new resources.
func (f Features) Allows(projectCount int) bool {
	return f.Projects == 0 || projectCount < f.Projects
}
