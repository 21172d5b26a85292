package types

import (
	"strings"
	"time"
)

// displaySuffix is appended to a plan's canonical name for listing.
const displaySuffix = " 训练计划"

// Plan is a tenant: a named namespace that owns its own storage unit.
// Name is always the canonical upper-case form.
type Plan struct {
	PlanID      string    `json:"plan_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// PlanSummary is the listing view of a plan.
type PlanSummary struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	StageCount  int    `json:"stage_count"`
}

// NormalizeTenant returns the canonical identifier for a plan name.
func NormalizeTenant(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// StorageKey returns the lower-case form used to name a plan's storage unit.
func StorageKey(name string) string {
	return strings.ToLower(NormalizeTenant(name))
}

// DisplayName returns the human-facing name shown in plan listings.
func DisplayName(name string) string {
	return NormalizeTenant(name) + displaySuffix
}

// ValidateTenantName rejects names that are empty or could escape the data
// directory once turned into a file name.
func ValidateTenantName(name string) error {
	n := strings.TrimSpace(name)
	switch {
	case n == "":
		return ErrEmptyTenant
	case len(n) > 128:
		return ErrInvalidName
	case strings.ContainsAny(n, `/\?`), strings.Contains(n, ".."), n[0] == '.':
		return ErrInvalidName
	}
	return nil
}

// Summary builds the listing view of p with the given stage count.
func (p Plan) Summary(stageCount int) PlanSummary {
	return PlanSummary{
		Key:         StorageKey(p.Name),
		Name:        DisplayName(p.Name),
		Description: p.Description,
		StageCount:  stageCount,
	}
}
