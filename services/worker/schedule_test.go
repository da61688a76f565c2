package worker

import (
	"errors"
	"testing"

	"license-accrual/pkg/config"
	"license-accrual/pkg/taskname"
	"license-accrual/services/earning"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type registration struct {
	cronspec string
	taskType string
	opts     []asynq.Option
}

type fakeRegistrar struct {
	regs []registration
	fail string
}

func (f *fakeRegistrar) Register(cronspec string, task *asynq.Task, opts ...asynq.Option) (string, error) {
	if cronspec == f.fail {
		return "", errors.New("bad cronspec")
	}
	f.regs = append(f.regs, registration{cronspec, task.Type(), opts})
	return task.Type(), nil
}

func scheduleConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Earnings.Cron = "@every 1h"
	cfg.Queue.CleanupCron = "@every 6h"
	cfg.Queue.ExpiryCron = "@every 5m"
	return cfg
}

func TestRegisterEntries(t *testing.T) {
	r := &fakeRegistrar{}
	require.NoError(t, RegisterEntries(r, Entries(scheduleConfig())))

	require.Len(t, r.regs, 3)
	require.Equal(t, taskname.EarningsCycle, r.regs[0].taskType)
	require.Equal(t, "@every 1h", r.regs[0].cronspec)
	opts := optionValues(r.regs[0].opts)
	require.Equal(t, earning.CycleTimeout, opts[asynq.UniqueOpt])
	require.Equal(t, 3, opts[asynq.MaxRetryOpt])
	require.Equal(t, taskname.QueueEarnings, opts[asynq.QueueOpt])

	require.Equal(t, taskname.QueueCleanup, r.regs[1].taskType)
	require.Equal(t, taskname.OrderExpiry, r.regs[2].taskType)
}

func TestEntriesUseConfiguredMaxRetry(t *testing.T) {
	cfg := scheduleConfig()
	cfg.Queue.MaxRetry = 5

	opts := optionValues(Entries(cfg)[0].Opts)
	require.Equal(t, 5, opts[asynq.MaxRetryOpt])
}

func optionValues(opts []asynq.Option) map[asynq.OptionType]any {
	out := make(map[asynq.OptionType]any, len(opts))
	for _, o := range opts {
		out[o.Type()] = o.Value()
	}
	return out
}

func TestEntriesSkipsDisabledJobs(t *testing.T) {
	cfg := scheduleConfig()
	cfg.Queue.CleanupCron = ""

	entries := Entries(cfg)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.NotEqual(t, "queue_cleanup", e.Name)
	}
}

func TestRegisterEntriesReportsBadCron(t *testing.T) {
	r := &fakeRegistrar{fail: "@every 5m"}
	err := RegisterEntries(r, Entries(scheduleConfig()))
	require.ErrorContains(t, err, "order_expiry")
}
