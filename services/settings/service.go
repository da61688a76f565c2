package settings

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"license-accrual/pkg/config"
	"license-accrual/pkg/featureflags"
	"license-accrual/pkg/repository"
	"license-accrual/pkg/rediskey"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var Module = fx.Module("settings.service",
	fx.Provide(
		NewService,
		func(s *Service) Provider { return s },
	),
)

// Provider is what the processors read their knobs from.
type Provider interface {
	GetSettings(ctx context.Context) (Settings, error)
}

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "settings_cache_hits_total"})
	cacheMiss = prometheus.NewCounter(prometheus.CounterOpts{Name: "settings_cache_miss_total"})

	registerOnce sync.Once
)

func registerMetrics() {
	registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{cacheHits, cacheMiss} {
			if err := prometheus.Register(c); err != nil {
				var are prometheus.AlreadyRegisteredError
				if !errors.As(err, &are) {
					zap.L().Warn("register settings metrics", zap.Error(err))
				}
			}
		}
	})
}

const cacheKeyName = "current"

// Service loads settings from the single settings row. Results are cached in
// redis for ttl and concurrent misses share one load. When Flagsmith is
// configured its flags override the automation toggles and maintenance mode.
type Service struct {
	db    *gorm.DB
	rdb   *redis.Client
	flags featureflags.FeatureFlag
	ttl   time.Duration
	group singleflight.Group

	records repository.Repository[Record]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
	Redis  *redis.Client             `optional:"true"`
	Flags  featureflags.FeatureFlag `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	registerMetrics()

	var ttl time.Duration
	if p.Config != nil {
		ttl = p.Config.Settings.CacheTTL
	}
	return &Service{
		db:      p.DB,
		rdb:     p.Redis,
		flags:   p.Flags,
		ttl:     ttl,
		records: repository.ProvideStore[Record](p.DB),
	}
}

func (s *Service) cacheKey() string {
	return rediskey.BuildSettingsKey(cacheKeyName)
}

func (s *Service) GetSettings(ctx context.Context) (Settings, error) {
	if cached, ok := s.fromCache(ctx); ok {
		cacheHits.Inc()
		return cached, nil
	}
	cacheMiss.Inc()

	v, err, _ := s.group.Do(cacheKeyName, func() (interface{}, error) {
		loaded, err := s.load(ctx)
		if err != nil {
			return Settings{}, err
		}
		s.toCache(ctx, loaded)
		return loaded, nil
	})
	if err != nil {
		return Settings{}, err
	}
	return v.(Settings), nil
}

func (s *Service) load(ctx context.Context) (Settings, error) {
	rec, err := s.records.FindOne(ctx, &Record{ID: RecordID})
	if err != nil {
		return Settings{}, err
	}

	out := Defaults()
	if rec != nil {
		out = rec.Settings()
	} else {
		zap.L().Warn("settings row missing, using defaults")
	}

	s.overlayFlags(ctx, &out)
	return out, nil
}

func (s *Service) overlayFlags(ctx context.Context, out *Settings) {
	if s.flags == nil {
		return
	}

	targets := map[string]*bool{
		FlagMaintenanceMode:                  &out.MaintenanceMode,
		FlagAutomaticDailyEarningsProcessing: &out.AutomaticDailyEarningsProcessing,
		FlagAutomaticOrderProcessing:         &out.AutomaticOrderProcessing,
	}
	for name, target := range targets {
		enabled, found, err := s.flags.Lookup(ctx, name)
		if err != nil {
			// stored values stay in effect when flagsmith is unreachable
			zap.L().Warn("feature flag lookup failed", zap.String("flag", name), zap.Error(err))
			return
		}
		if found {
			*target = enabled
		}
	}
}

func (s *Service) fromCache(ctx context.Context) (Settings, bool) {
	if s.rdb == nil || s.ttl <= 0 {
		return Settings{}, false
	}

	b, err := s.rdb.Get(ctx, s.cacheKey()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("settings cache read failed", zap.Error(err))
		}
		return Settings{}, false
	}

	var out Settings
	if err := json.Unmarshal(b, &out); err != nil {
		zap.L().Warn("settings cache entry corrupt", zap.Error(err))
		return Settings{}, false
	}
	return out, true
}

func (s *Service) toCache(ctx context.Context, v Settings) {
	if s.rdb == nil || s.ttl <= 0 {
		return
	}

	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, s.cacheKey(), b, s.ttl).Err(); err != nil {
		zap.L().Warn("settings cache write failed", zap.Error(err))
	}
}

// Update stores v as the settings row and drops the cached copy.
func (s *Service) Update(ctx context.Context, v Settings) error {
	if err := s.db.WithContext(ctx).Save(NewRecord(v)).Error; err != nil {
		return err
	}
	return s.Invalidate(ctx)
}

func (s *Service) Invalidate(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, s.cacheKey()).Err()
}

// Seed writes the default row if none exists.
func (s *Service) Seed(ctx context.Context) error {
	rec, err := s.records.FindOne(ctx, &Record{ID: RecordID})
	if err != nil {
		return err
	}
	if rec != nil {
		return nil
	}
	return s.records.Create(ctx, NewRecord(Defaults()))
}
