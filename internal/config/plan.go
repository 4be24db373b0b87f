package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Per-window token capacity by subscription plan. Overridable via
// quota.capacity_tokens in the config file.
var planCapacities = map[string]int64{
	"pro":     200_000,
	"max-5x":  1_000_000,
	"max-20x": 4_000_000,
}

// PlanCapacity returns the default window capacity for a plan name,
// falling back to the pro tier for unknown plans.
func PlanCapacity(plan string) int64 {
	if cap, ok := planCapacities[plan]; ok {
		return cap
	}
	return planCapacities["pro"]
}

// DetectPlan reads ~/.claude/.claude.json to determine the billing plan.
func DetectPlan(claudeDir string) string {
	path := filepath.Join(claudeDir, ".claude.json")
	data, err := os.ReadFile(path) //nolint:gosec // path is constructed from known claudeDir
	if err != nil {
		return "pro"
	}

	var raw struct {
		BillingType string `json:"billingType"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "pro"
	}

	switch raw.BillingType {
	case "stripe_subscription":
		return "max-5x"
	default:
		return "pro"
	}
}
