package billing

import (
	"testing"

	"invoicely/internal/types"
)

func TestGetLimits_FreeTier(t *testing.T) {
	reg := NewStaticPlanRegistry(0)
	limits := reg.GetLimits(types.TierFree)

	if limits.Unlimited {
		t.Fatal("Free must not be unlimited")
	}
	if limits.MaxInvoicesPerPeriod != types.DefaultMaxFreeInvoices {
		t.Errorf("MaxInvoicesPerPeriod = %d, want %d", limits.MaxInvoicesPerPeriod, types.DefaultMaxFreeInvoices)
	}
}

func TestGetLimits_ProTier(t *testing.T) {
	reg := NewStaticPlanRegistry(3)
	if !reg.GetLimits(types.TierPro).Unlimited {
		t.Error("Pro must be unlimited")
	}
}

func TestGetLimits_UnknownTierFallsBackToFree(t *testing.T) {
	reg := NewStaticPlanRegistry(5)
	limits := reg.GetLimits(types.Tier("platinum"))
	if limits.Unlimited || limits.MaxInvoicesPerPeriod != 5 {
		t.Errorf("unknown tier got %+v, want Free limits", limits)
	}
}

func TestFreeCeiling_Configurable(t *testing.T) {
	if got := FreeCeiling(NewStaticPlanRegistry(10)); got != 10 {
		t.Errorf("FreeCeiling = %d, want 10", got)
	}
}

func TestPlanLimits_AllowsAndRemaining(t *testing.T) {
	free := PlanLimits{MaxInvoicesPerPeriod: 3}
	tests := []struct {
		count     int
		allows    bool
		remaining int
	}{
		{0, true, 3},
		{2, true, 1},
		{3, false, 0},
		{4, false, 0},
	}
	for _, tt := range tests {
		if got := free.Allows(tt.count); got != tt.allows {
			t.Errorf("Allows(%d) = %v, want %v", tt.count, got, tt.allows)
		}
		if got := free.Remaining(tt.count); got != tt.remaining {
			t.Errorf("Remaining(%d) = %d, want %d", tt.count, got, tt.remaining)
		}
	}

	pro := PlanLimits{Unlimited: true}
	if !pro.Allows(1_000_000) {
		t.Error("unlimited plan must always allow")
	}
}
