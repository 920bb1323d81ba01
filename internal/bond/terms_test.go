package bond_test

import (
	"testing"
	"time"

	"ForgeLedger/internal/bond"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sampleTerms() bond.Terms {
	return bond.Terms{
		Denomination:            100_000,
		Divisor:                 100,
		StartDate:               date(2024, time.January, 15),
		InitialMaturityDate:     date(2027, time.January, 15),
		FirstCouponDate:         date(2024, time.July, 15),
		CouponFrequencyInMonths: 6,
		InterestRateInBips:      350,
	}
}

func TestTerms_Validate(t *testing.T) {
	require.NoError(t, sampleTerms().Validate())

	cases := map[string]func(*bond.Terms){
		"zero denomination": func(tm *bond.Terms) { tm.Denomination = 0 },
		"zero divisor":      func(tm *bond.Terms) { tm.Divisor = 0 },
		"maturity first":    func(tm *bond.Terms) { tm.InitialMaturityDate = tm.StartDate },
		"odd frequency":     func(tm *bond.Terms) { tm.CouponFrequencyInMonths = 5 },
		"coupon too late":   func(tm *bond.Terms) { tm.FirstCouponDate = date(2030, time.January, 1) },
		"bullet no period":  func(tm *bond.Terms) { tm.IsSoftBullet = true },
		"period no bullet":  func(tm *bond.Terms) { tm.SoftBulletPeriodInMonths = 3 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tm := sampleTerms()
			mutate(&tm)
			assert.ErrorIs(t, tm.Validate(), bond.ErrInvalidTerms)
		})
	}
}

func TestTerms_CouponAmount(t *testing.T) {
	tm := sampleTerms()

	// face 1000, 3.5% a year, half a year: 17.50 per unit
	assert.True(t, decimal.RequireFromString("17.5").Equal(tm.CouponAmount(1)))
	assert.True(t, decimal.RequireFromString("3500").Equal(tm.CouponAmount(200)))

	tm.InterestRateInBips = 0
	assert.True(t, tm.CouponAmount(200).IsZero())
}

func TestTerms_CouponAmountRounding(t *testing.T) {
	tm := sampleTerms()
	tm.Denomination = 1
	tm.Divisor = 3
	tm.CouponFrequencyInMonths = 12
	tm.InterestRateInBips = 10_000

	assert.Equal(t, "0.33", tm.CouponAmount(1).StringFixed(2))
}

func TestTerms_Schedule(t *testing.T) {
	dates := sampleTerms().CouponSchedule()
	require.Len(t, dates, 6)
	assert.Equal(t, date(2024, time.July, 15), dates[0])
	assert.Equal(t, date(2027, time.January, 15), dates[5], "maturity date pays the last coupon")
}

func TestTerms_SoftBulletMaturity(t *testing.T) {
	tm := sampleTerms()
	tm.IsSoftBullet = true
	tm.SoftBulletPeriodInMonths = 12

	assert.Equal(t, tm.InitialMaturityDate, tm.MaturityDate(false))
	assert.Equal(t, date(2028, time.January, 15), tm.MaturityDate(true))
}
