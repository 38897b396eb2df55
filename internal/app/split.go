/**
 * @description
 * This file implements the fee and split calculator: a pure, deterministic function
 * that divides an order's total amount between the platform, the group leader, and the
 * group members. It performs no I/O and is safe to unit test exhaustively.
 *
 * @notes
 * - All rounding happens at scale 2. The per-member amount is floored and the residual
 *   cents are folded into the leader commission, so the three output buckets always sum
 *   to the total exactly. Rounding must never create or destroy money.
 * - A solo group (one member, no leader role) is an explicit branch: the whole net
 *   distribution goes to the single member and the leader commission is zero.
 */

package app

import (
	"errors"

	"github.com/gigvault/wallet-service/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount    = errors.New("total amount must be greater than zero")
	ErrInvalidGroupSize = errors.New("group members count must be at least one")
)

// SplitRates holds the configured platform and leader rates. PlatformFeeRate applies
// to the order total; LeaderCommissionRate applies to the net amount after the fee.
type SplitRates struct {
	PlatformFeeRate      decimal.Decimal
	LeaderCommissionRate decimal.Decimal
}

// DefaultSplitRates returns the production rates: 10% platform fee, 3% leader commission.
func DefaultSplitRates() SplitRates {
	return SplitRates{
		PlatformFeeRate:      decimal.NewFromFloat(0.10),
		LeaderCommissionRate: decimal.NewFromFloat(0.03),
	}
}

// ComputeSplit calculates the split of totalAmount across the platform, the group
// leader, and groupMembersCount members. The returned fields satisfy, cent-exact:
//
//	PlatformFee + NetAmount == totalAmount
//	LeaderCommission + MemberDistribution == NetAmount
//	PerMemberAmount * GroupMembersCount == MemberDistribution
func ComputeSplit(totalAmount decimal.Decimal, groupMembersCount int, rates SplitRates) (domain.OrderSplit, error) {
	if totalAmount.LessThanOrEqual(decimal.Zero) {
		return domain.OrderSplit{}, ErrInvalidAmount
	}
	if groupMembersCount < 1 {
		return domain.OrderSplit{}, ErrInvalidGroupSize
	}

	platformFee := totalAmount.Mul(rates.PlatformFeeRate).Round(2)
	netAmount := totalAmount.Sub(platformFee)

	// Solo freelancer: no leader role exists, so the full net amount is the member's.
	if groupMembersCount == 1 {
		return domain.OrderSplit{
			PlatformFee:        platformFee,
			NetAmount:          netAmount,
			LeaderCommission:   decimal.Zero.Round(2),
			MemberDistribution: netAmount,
			GroupMembersCount:  1,
			PerMemberAmount:    netAmount,
		}, nil
	}

	leaderCommission := netAmount.Mul(rates.LeaderCommissionRate).Round(2)
	memberDistribution := netAmount.Sub(leaderCommission)

	members := decimal.NewFromInt(int64(groupMembersCount))
	perMemberAmount := memberDistribution.Div(members).RoundDown(2)

	// Sub-cent remainder of the integer division goes to the leader, never lost.
	residual := memberDistribution.Sub(perMemberAmount.Mul(members))
	leaderCommission = leaderCommission.Add(residual)
	memberDistribution = perMemberAmount.Mul(members)

	return domain.OrderSplit{
		PlatformFee:        platformFee,
		NetAmount:          netAmount,
		LeaderCommission:   leaderCommission,
		MemberDistribution: memberDistribution,
		GroupMembersCount:  groupMembersCount,
		PerMemberAmount:    perMemberAmount,
	}, nil
}
