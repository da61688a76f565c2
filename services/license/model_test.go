package license

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestLimitReached(t *testing.T) {
	lic := &License{
		Principal:   decimal.NewFromInt(1000),
		DailyRate:   decimal.RequireFromString("0.08"),
		CapFraction: decimal.NewFromInt(2),
		MaxDays:     30,
		TotalEarned: decimal.Zero,
	}
	require.False(t, lic.LimitReached())
	require.True(t, lic.DailyAmount().Equal(decimal.NewFromInt(80)))
	require.True(t, lic.CapAmount().Equal(decimal.NewFromInt(2000)))

	lic.DaysGenerated = 30
	require.True(t, lic.LimitReached())

	lic.DaysGenerated = 3
	lic.TotalEarned = decimal.NewFromInt(2000)
	require.True(t, lic.LimitReached())
}

func TestEarningDate(t *testing.T) {
	lic := &License{StartedAt: time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)}

	require.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), lic.EarningDate(1, time.UTC))
	require.Equal(t, time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC), lic.EarningDate(3, nil))

	jakarta := time.FixedZone("WIB", 7*3600)
	// 15:30 UTC is 22:30 in UTC+7, still March 10 there
	require.Equal(t, time.Date(2024, 3, 10, 17, 0, 0, 0, time.UTC), lic.EarningDate(1, jakarta))
}
