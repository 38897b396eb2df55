package app

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestComputeSplit(t *testing.T) {
	rates := DefaultSplitRates()

	tests := []struct {
		name                   string
		totalAmount            string
		groupMembersCount      int
		wantPlatformFee        string
		wantNetAmount          string
		wantLeaderCommission   string
		wantMemberDistribution string
		wantPerMemberAmount    string
	}{
		{
			name:                   "even split across three members",
			totalAmount:            "100.00",
			groupMembersCount:      3,
			wantPlatformFee:        "10.00",
			wantNetAmount:          "90.00",
			wantLeaderCommission:   "2.70",
			wantMemberDistribution: "87.30",
			wantPerMemberAmount:    "29.10",
		},
		{
			name:                   "small total divides exactly",
			totalAmount:            "10.00",
			groupMembersCount:      3,
			wantPlatformFee:        "1.00",
			wantNetAmount:          "9.00",
			wantLeaderCommission:   "0.27",
			wantMemberDistribution: "8.73",
			wantPerMemberAmount:    "2.91",
		},
		{
			name:                   "residual cent folds into leader commission",
			totalAmount:            "33.34",
			groupMembersCount:      3,
			wantPlatformFee:        "3.33",
			wantNetAmount:          "30.01",
			wantLeaderCommission:   "0.91",
			wantMemberDistribution: "29.10",
			wantPerMemberAmount:    "9.70",
		},
		{
			name:                   "solo freelancer gets the whole net amount",
			totalAmount:            "50.00",
			groupMembersCount:      1,
			wantPlatformFee:        "5.00",
			wantNetAmount:          "45.00",
			wantLeaderCommission:   "0.00",
			wantMemberDistribution: "45.00",
			wantPerMemberAmount:    "45.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			split, err := ComputeSplit(d(tt.totalAmount), tt.groupMembersCount, rates)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := split.PlatformFee.StringFixed(2); got != tt.wantPlatformFee {
				t.Fatalf("expected platform fee=%s, got %s", tt.wantPlatformFee, got)
			}
			if got := split.NetAmount.StringFixed(2); got != tt.wantNetAmount {
				t.Fatalf("expected net amount=%s, got %s", tt.wantNetAmount, got)
			}
			if got := split.LeaderCommission.StringFixed(2); got != tt.wantLeaderCommission {
				t.Fatalf("expected leader commission=%s, got %s", tt.wantLeaderCommission, got)
			}
			if got := split.MemberDistribution.StringFixed(2); got != tt.wantMemberDistribution {
				t.Fatalf("expected member distribution=%s, got %s", tt.wantMemberDistribution, got)
			}
			if got := split.PerMemberAmount.StringFixed(2); got != tt.wantPerMemberAmount {
				t.Fatalf("expected per-member amount=%s, got %s", tt.wantPerMemberAmount, got)
			}
		})
	}
}

func TestComputeSplitRejectsInvalidInput(t *testing.T) {
	rates := DefaultSplitRates()

	if _, err := ComputeSplit(decimal.Zero, 3, rates); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero total, got %v", err)
	}
	if _, err := ComputeSplit(d("-5.00"), 3, rates); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative total, got %v", err)
	}
	if _, err := ComputeSplit(d("100.00"), 0, rates); !errors.Is(err, ErrInvalidGroupSize) {
		t.Fatalf("expected ErrInvalidGroupSize for zero members, got %v", err)
	}
}

// TestComputeSplitConservesMoney checks the cent-exact accounting identities across
// a sweep of totals and group sizes. Rounding must never create or destroy money.
func TestComputeSplitConservesMoney(t *testing.T) {
	rates := DefaultSplitRates()
	totals := []string{"0.01", "0.99", "1.00", "10.00", "33.34", "99.97", "100.00", "1234.56", "9999.99"}

	for _, total := range totals {
		for count := 1; count <= 7; count++ {
			split, err := ComputeSplit(d(total), count, rates)
			if err != nil {
				t.Fatalf("total=%s count=%d: unexpected error: %v", total, count, err)
			}
			if got := split.PlatformFee.Add(split.NetAmount); !got.Equal(d(total)) {
				t.Fatalf("total=%s count=%d: fee+net=%s, want %s", total, count, got, total)
			}
			if got := split.LeaderCommission.Add(split.MemberDistribution); !got.Equal(split.NetAmount) {
				t.Fatalf("total=%s count=%d: commission+distribution=%s, want %s", total, count, got, split.NetAmount)
			}
			members := decimal.NewFromInt(int64(count))
			if got := split.PerMemberAmount.Mul(members); !got.Equal(split.MemberDistribution) {
				t.Fatalf("total=%s count=%d: per*count=%s, want %s", total, count, got, split.MemberDistribution)
			}
			if split.PlatformFee.IsNegative() || split.LeaderCommission.IsNegative() || split.PerMemberAmount.IsNegative() {
				t.Fatalf("total=%s count=%d: negative bucket in %+v", total, count, split)
			}
		}
	}
}
