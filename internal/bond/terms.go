package bond

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	bipsPerUnit    = decimal.NewFromInt(10_000)
	monthsPerYear  = decimal.NewFromInt(12)
	couponDecimals = int32(2)
)

// Terms are the economic terms of a bond as given at creation.
type Terms struct {
	Denomination             uint64    `json:"denomination"`
	Divisor                  uint64    `json:"divisor"`
	StartDate                time.Time `json:"start_date"`
	InitialMaturityDate      time.Time `json:"initial_maturity_date"`
	FirstCouponDate          time.Time `json:"first_coupon_date"`
	CouponFrequencyInMonths  uint32    `json:"coupon_frequency_in_months"`
	InterestRateInBips       uint32    `json:"interest_rate_in_bips"`
	Callable                 bool      `json:"callable"`
	IsSoftBullet             bool      `json:"is_soft_bullet"`
	SoftBulletPeriodInMonths uint32    `json:"soft_bullet_period_in_months"`
}

// Validate checks the internal consistency of the terms.
func (t Terms) Validate() error {
	if t.Denomination == 0 {
		return fmt.Errorf("%w: denomination must be positive", ErrInvalidTerms)
	}
	if t.Divisor == 0 {
		return fmt.Errorf("%w: divisor must be positive", ErrInvalidTerms)
	}
	if !t.InitialMaturityDate.After(t.StartDate) {
		return fmt.Errorf("%w: maturity %s not after start %s", ErrInvalidTerms,
			t.InitialMaturityDate.Format(time.DateOnly), t.StartDate.Format(time.DateOnly))
	}
	if t.InterestRateInBips > 0 {
		if t.CouponFrequencyInMonths == 0 || 12%t.CouponFrequencyInMonths != 0 {
			return fmt.Errorf("%w: coupon frequency %d months does not divide a year", ErrInvalidTerms, t.CouponFrequencyInMonths)
		}
		if t.FirstCouponDate.Before(t.StartDate) || t.FirstCouponDate.After(t.InitialMaturityDate) {
			return fmt.Errorf("%w: first coupon date outside [start, maturity]", ErrInvalidTerms)
		}
	}
	if t.IsSoftBullet != (t.SoftBulletPeriodInMonths > 0) {
		return fmt.Errorf("%w: soft bullet period must be set exactly when the bond is soft bullet", ErrInvalidTerms)
	}
	return nil
}

// FaceValue returns the nominal value of one unit: denomination / divisor.
func (t Terms) FaceValue() decimal.Decimal {
	return decimal.NewFromUint64(t.Denomination).Div(decimal.NewFromUint64(t.Divisor))
}

// CouponAmount returns the coupon paid on quantity units for one period,
// rounded half-even to cents.
func (t Terms) CouponAmount(quantity uint64) decimal.Decimal {
	if t.InterestRateInBips == 0 || t.CouponFrequencyInMonths == 0 {
		return decimal.Zero
	}

	annualRate := decimal.NewFromInt(int64(t.InterestRateInBips)).Div(bipsPerUnit)
	periodShare := decimal.NewFromInt(int64(t.CouponFrequencyInMonths)).Div(monthsPerYear)

	return t.FaceValue().
		Mul(decimal.NewFromUint64(quantity)).
		Mul(annualRate).
		Mul(periodShare).
		RoundBank(couponDecimals)
}

// MaturityDate returns the final maturity, extended by the soft bullet
// period when extended is set.
func (t Terms) MaturityDate(extended bool) time.Time {
	if extended && t.IsSoftBullet {
		return t.InitialMaturityDate.AddDate(0, int(t.SoftBulletPeriodInMonths), 0)
	}
	return t.InitialMaturityDate
}

// CouponSchedule lists the coupon dates from the first coupon up to the
// initial maturity, inclusive.
func (t Terms) CouponSchedule() []time.Time {
	if t.InterestRateInBips == 0 || t.CouponFrequencyInMonths == 0 {
		return nil
	}

	var dates []time.Time
	for i := 0; ; i++ {
		d := t.FirstCouponDate.AddDate(0, i*int(t.CouponFrequencyInMonths), 0)
		if d.After(t.InitialMaturityDate) {
			break
		}
		dates = append(dates, d)
	}
	return dates
}
