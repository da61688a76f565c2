package featureflags

import (
	"context"
	"errors"

	"license-accrual/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"go.uber.org/fx"
)

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

// ErrDisabled is returned when no Flagsmith key is configured.
var ErrDisabled = errors.New("feature flags disabled")

type FeatureFlag interface {
	Features(ctx context.Context) ([]flagsmith.Flag, error)
	// Lookup returns the flag state and whether the environment defines it.
	Lookup(ctx context.Context, name string) (enabled bool, found bool, err error)
}

type featureflag struct {
	client *flagsmith.Client
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		return &featureflag{}
	}

	opts := []flagsmith.Option{
		flagsmith.WithAnalytics(),
	}
	if p.Config.Flagsmith.Addr != "" {
		opts = append(opts, flagsmith.WithBaseURL(p.Config.Flagsmith.Addr))
	}

	return &featureflag{
		client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...),
	}
}

func (s *featureflag) Features(ctx context.Context) ([]flagsmith.Flag, error) {
	if s.client == nil {
		return nil, ErrDisabled
	}

	flags, err := s.client.GetEnvironmentFlags()
	if err != nil {
		return nil, err
	}

	return flags.AllFlags(), nil
}

func (s *featureflag) Lookup(ctx context.Context, name string) (bool, bool, error) {
	all, err := s.Features(ctx)
	if err != nil {
		if errors.Is(err, ErrDisabled) {
			return false, false, nil
		}
		return false, false, err
	}

	for _, f := range all {
		if f.FeatureName == name {
			return f.Enabled, true, nil
		}
	}
	return false, false, nil
}
