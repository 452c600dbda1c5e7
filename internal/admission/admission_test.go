package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arvind-mehta/orderflow-core/internal/domain"
	"github.com/arvind-mehta/orderflow-core/internal/platform/money"
)

func controllerWithLimits() *Controller {
	return New(nil, nil, DefaultLimits())
}

func activeRetailer(category domain.ScoreCategory, limit, debt int64) domain.Retailer {
	return domain.Retailer{
		ID:              "retailer-1",
		Status:          domain.RetailerActive,
		ScoreCategory:   category,
		CreditLimit:     money.FromInt(limit),
		OutstandingDebt: money.FromInt(debt),
	}
}

func TestAdmit_BlockedRetailerAlwaysRejected(t *testing.T) {
	c := controllerWithLimits()
	retailer := activeRetailer(domain.ScoreExcellent, 500000, 0)
	retailer.Status = domain.RetailerBlocked

	decision := c.Admit(nil, retailer, nil, money.FromInt(100), false)
	assert.Equal(t, Reject, decision.Kind)
}

func TestAdmit_VeryPoorCashOnlyRejectsCreditOrders(t *testing.T) {
	c := controllerWithLimits()
	retailer := activeRetailer(domain.ScoreVeryPoor, 15000, 0)

	decision := c.Admit(nil, retailer, nil, money.FromInt(1000), true)
	assert.Equal(t, Reject, decision.Kind)
	assert.Contains(t, decision.Reason, "cash-only")
}

func TestAdmit_VeryPoorCashOrderNotRejectedByCategoryRule(t *testing.T) {
	c := controllerWithLimits()
	retailer := activeRetailer(domain.ScoreVeryPoor, 15000, 0)

	decision := c.Admit(nil, retailer, nil, money.FromInt(1000), false)
	assert.Equal(t, Accept, decision.Kind)
}

func TestAdmit_ExceedsMaxOrderAmountRejected(t *testing.T) {
	c := controllerWithLimits()
	retailer := activeRetailer(domain.ScoreFair, 100000, 0)

	decision := c.Admit(nil, retailer, nil, money.FromInt(200000), false)
	assert.Equal(t, Reject, decision.Kind)
	assert.Contains(t, decision.Reason, "maximum order amount")
}

func TestAdmit_InsufficientCreditRejected(t *testing.T) {
	c := controllerWithLimits()
	retailer := activeRetailer(domain.ScoreGood, 250000, 249500)

	decision := c.Admit(nil, retailer, nil, money.FromInt(1000), false)
	assert.Equal(t, Reject, decision.Kind)
	assert.Contains(t, decision.Reason, "insufficient credit")
}

func TestAdmit_PoorOverThresholdNeedsApproval(t *testing.T) {
	c := controllerWithLimits()
	retailer := activeRetailer(domain.ScorePoor, 40000, 0)

	decision := c.Admit(nil, retailer, nil, money.FromInt(15000), false)
	assert.Equal(t, NeedsApproval, decision.Kind)
}

func TestAdmit_GoodTierNeverNeedsApproval(t *testing.T) {
	c := controllerWithLimits()
	retailer := activeRetailer(domain.ScoreGood, 250000, 0)

	decision := c.Admit(nil, retailer, nil, money.FromInt(249999), false)
	assert.Equal(t, Accept, decision.Kind)
}

func TestAdmit_UnknownCategoryFallsBackToFairLimits(t *testing.T) {
	c := controllerWithLimits()
	retailer := activeRetailer(domain.ScoreCategory("UNKNOWN"), 0, 0)
	retailer.CreditLimit = money.FromInt(100000)

	decision := c.Admit(nil, retailer, nil, money.FromInt(50000), false)
	assert.Equal(t, Accept, decision.Kind)
}

func TestDefaultLimits_ExcellentAndGoodHaveNoEffectiveApprovalGate(t *testing.T) {
	limits := DefaultLimits()
	excellent := limits[domain.ScoreExcellent]
	assert.True(t, excellent.ApprovalThreshold.Cmp(excellent.MaxOrderAmount) == 0)

	good := limits[domain.ScoreGood]
	assert.True(t, good.ApprovalThreshold.Cmp(good.MaxOrderAmount) == 0)
}

func TestDefaultLimits_SeverityDecreasesByTier(t *testing.T) {
	limits := DefaultLimits()
	assert.True(t, limits[domain.ScoreExcellent].MaxOrderAmount.GreaterThan(limits[domain.ScoreGood].MaxOrderAmount))
	assert.True(t, limits[domain.ScoreGood].MaxOrderAmount.GreaterThan(limits[domain.ScoreFair].MaxOrderAmount))
	assert.True(t, limits[domain.ScoreFair].MaxOrderAmount.GreaterThan(limits[domain.ScorePoor].MaxOrderAmount))
	assert.True(t, limits[domain.ScorePoor].MaxOrderAmount.GreaterThan(limits[domain.ScoreVeryPoor].MaxOrderAmount))
}
