package license

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

func (s Status) String() string {
	return string(s)
}

// License is a purchased contract that accrues one DailyEarning per day until
// it reaches MaxDays or its earning cap. PausePotential is independent of
// Status: a paused license keeps accruing but its earnings are not credited.
type License struct {
	ID             string          `gorm:"column:id;primaryKey"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
	UserID         string          `gorm:"column:user_id;index"`
	OrderID        string          `gorm:"column:order_id;uniqueIndex"`
	ProductID      string          `gorm:"column:product_id"`
	Principal      decimal.Decimal `gorm:"column:principal;type:decimal(36,18)"`
	DailyRate      decimal.Decimal `gorm:"column:daily_rate;type:decimal(18,8)"`
	MaxDays        int             `gorm:"column:max_days"`
	CapFraction    decimal.Decimal `gorm:"column:cap_fraction;type:decimal(18,8)"`
	DaysGenerated  int             `gorm:"column:days_generated"`
	Status         Status          `gorm:"column:status;index"`
	PausePotential bool            `gorm:"column:pause_potential"`
	CashbackAccum  decimal.Decimal `gorm:"column:cashback_accum;type:decimal(36,18)"`
	PotentialAccum decimal.Decimal `gorm:"column:potential_accum;type:decimal(36,18)"`
	TotalEarned    decimal.Decimal `gorm:"column:total_earned;type:decimal(36,18)"`
	StartedAt      time.Time       `gorm:"column:started_at"`
	CompletedAt    *time.Time      `gorm:"column:completed_at"`
}

// CapAmount is the most a license may earn: principal * cap fraction.
func (l *License) CapAmount() decimal.Decimal {
	return l.Principal.Mul(l.CapFraction)
}

// DailyAmount is principal * daily rate.
func (l *License) DailyAmount() decimal.Decimal {
	return l.Principal.Mul(l.DailyRate)
}

// LimitReached reports whether the license has used up its days or its cap.
func (l *License) LimitReached() bool {
	if l.DaysGenerated >= l.MaxDays {
		return true
	}
	return l.TotalEarned.GreaterThanOrEqual(l.CapAmount())
}

// EarningDate returns the date a given 1-based day is booked under: the start
// date truncated to midnight in loc, advanced by dayIndex days.
func (l *License) EarningDate(dayIndex int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	s := l.StartedAt.In(loc)
	midnight := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
	return midnight.AddDate(0, 0, dayIndex).UTC()
}

// DailyEarning is written once per (license, earning date). The unique
// indexes are what make the accrual idempotent under concurrent cycles.
type DailyEarning struct {
	ID               string          `gorm:"column:id;primaryKey"`
	CreatedAt        time.Time       `gorm:"column:created_at"`
	LicenseID        string          `gorm:"column:license_id;uniqueIndex:idx_daily_earning_license_date;uniqueIndex:idx_daily_earning_license_day"`
	UserID           string          `gorm:"column:user_id;index"`
	DayIndex         int             `gorm:"column:day_index;uniqueIndex:idx_daily_earning_license_day"`
	CashbackAmount   decimal.Decimal `gorm:"column:cashback_amount;type:decimal(36,18)"`
	PotentialAmount  decimal.Decimal `gorm:"column:potential_amount;type:decimal(36,18)"`
	AppliedToBalance bool            `gorm:"column:applied_to_balance"`
	EarningDate      time.Time       `gorm:"column:earning_date;uniqueIndex:idx_daily_earning_license_date"`
	AppliedAt        *time.Time      `gorm:"column:applied_at"`
}

// Amount is the day's total regardless of phase.
func (d *DailyEarning) Amount() decimal.Decimal {
	return d.CashbackAmount.Add(d.PotentialAmount)
}
