package settings

import (
	"time"

	"github.com/shopspring/decimal"
)

// Flag names that may override the stored row when Flagsmith is configured.
const (
	FlagMaintenanceMode                  = "maintenance_mode"
	FlagAutomaticDailyEarningsProcessing = "automatic_daily_earnings_processing"
	FlagAutomaticOrderProcessing         = "automatic_order_processing"
)

// Settings are the admin-controlled knobs read by the processors.
type Settings struct {
	DailyEarningRate                 decimal.Decimal `json:"daily_earning_rate"`
	MaxEarningDays                   int             `json:"max_earning_days"`
	EarningCapFraction               decimal.Decimal `json:"earning_cap_fraction"`
	MaintenanceMode                  bool            `json:"maintenance_mode"`
	AutomaticDailyEarningsProcessing bool            `json:"automatic_daily_earnings_processing"`
	AutomaticOrderProcessing         bool            `json:"automatic_order_processing"`
	ValidationTolerancePercent       decimal.Decimal `json:"validation_tolerance_percent"`
}

func Defaults() Settings {
	return Settings{
		DailyEarningRate:                 decimal.RequireFromString("0.08"),
		MaxEarningDays:                   25,
		EarningCapFraction:               decimal.NewFromInt(2),
		AutomaticDailyEarningsProcessing: true,
		AutomaticOrderProcessing:         true,
		ValidationTolerancePercent:       decimal.NewFromInt(1),
	}
}

// RecordID is the primary key of the single settings row.
const RecordID = 1

type Record struct {
	ID                               uint            `gorm:"column:id;primaryKey"`
	UpdatedAt                        time.Time       `gorm:"column:updated_at"`
	DailyEarningRate                 decimal.Decimal `gorm:"column:daily_earning_rate;type:decimal(18,8)"`
	MaxEarningDays                   int             `gorm:"column:max_earning_days"`
	EarningCapFraction               decimal.Decimal `gorm:"column:earning_cap_fraction;type:decimal(18,8)"`
	MaintenanceMode                  bool            `gorm:"column:maintenance_mode"`
	AutomaticDailyEarningsProcessing bool            `gorm:"column:automatic_daily_earnings_processing"`
	AutomaticOrderProcessing         bool            `gorm:"column:automatic_order_processing"`
	ValidationTolerancePercent       decimal.Decimal `gorm:"column:validation_tolerance_percent;type:decimal(18,8)"`
}

func (Record) TableName() string {
	return "settings"
}

func (r *Record) Settings() Settings {
	return Settings{
		DailyEarningRate:                 r.DailyEarningRate,
		MaxEarningDays:                   r.MaxEarningDays,
		EarningCapFraction:               r.EarningCapFraction,
		MaintenanceMode:                  r.MaintenanceMode,
		AutomaticDailyEarningsProcessing: r.AutomaticDailyEarningsProcessing,
		AutomaticOrderProcessing:         r.AutomaticOrderProcessing,
		ValidationTolerancePercent:       r.ValidationTolerancePercent,
	}
}

func NewRecord(s Settings) *Record {
	return &Record{
		ID:                               RecordID,
		DailyEarningRate:                 s.DailyEarningRate,
		MaxEarningDays:                   s.MaxEarningDays,
		EarningCapFraction:               s.EarningCapFraction,
		MaintenanceMode:                  s.MaintenanceMode,
		AutomaticDailyEarningsProcessing: s.AutomaticDailyEarningsProcessing,
		AutomaticOrderProcessing:         s.AutomaticOrderProcessing,
		ValidationTolerancePercent:       s.ValidationTolerancePercent,
	}
}
