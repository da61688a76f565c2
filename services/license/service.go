package license

import (
	"context"

	"license-accrual/pkg/db/option"
	"license-accrual/pkg/errutil"
	"license-accrual/pkg/repository"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("license.service",
	fx.Provide(NewService),
)

type Service struct {
	licenses repository.Repository[License]
	earnings repository.Repository[DailyEarning]
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		licenses: repository.ProvideStore[License](p.DB),
		earnings: repository.ProvideStore[DailyEarning](p.DB),
	}
}

func (s *Service) Get(ctx context.Context, id string) (*License, error) {
	lic, err := s.licenses.FindOne(ctx, &License{ID: id})
	if err != nil {
		return nil, err
	}
	if lic == nil {
		return nil, errutil.NotFound("license not found", nil)
	}
	return lic, nil
}

func (s *Service) ListActive(ctx context.Context) ([]*License, error) {
	return s.licenses.Find(ctx, &License{Status: StatusActive}, option.WithSortBy("started_at", false))
}

func (s *Service) Earnings(ctx context.Context, licenseID string) ([]*DailyEarning, error) {
	return s.earnings.Find(ctx, &DailyEarning{LicenseID: licenseID}, option.WithSortBy("day_index", false))
}

// SetPausePotential toggles whether future earnings are credited to the
// user's balance. Only active licenses can be toggled.
func (s *Service) SetPausePotential(ctx context.Context, id string, paused bool) error {
	n, err := s.licenses.UpdateWhere(ctx,
		&License{ID: id, Status: StatusActive},
		map[string]any{"pause_potential": paused},
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return errutil.UnprocessableEntity("license not found or not active", nil)
	}

	zap.L().Info("license pause toggled", zap.String("license_id", id), zap.Bool("pause_potential", paused))
	return nil
}
