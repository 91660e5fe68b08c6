package bot

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/zapbot/internal/bot/tasks"
	"github.com/edgard/zapbot/internal/config"
)

func TestSchedulerSchedulesEnabledTasks(t *testing.T) {
	noop := func(context.Context) error { return nil }
	cfg := &config.SchedulerConfig{Tasks: map[string]config.TaskConfig{
		"sql_maintenance":       {Enabled: true, Schedule: "0 4 * * *"},
		"daily_group_summaries": {Enabled: false, Schedule: "0 22 * * *"},
		"unregistered":          {Enabled: true, Schedule: "* * * * *"},
		"broken":                {Enabled: true, Schedule: "not a cron"},
	}}
	taskMap := map[string]tasks.ScheduledTaskFunc{
		"sql_maintenance":       noop,
		"daily_group_summaries": noop,
		"broken":                noop,
	}

	s, err := NewScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, taskMap)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { require.NoError(t, s.Stop()) })

	assert.Equal(t, []string{"sql_maintenance"}, s.Jobs())
	assert.Error(t, s.Start(), "second start")
}

func TestSchedulerStopWhenIdle(t *testing.T) {
	s, err := NewScheduler(nil, &config.SchedulerConfig{}, nil)
	require.NoError(t, err)
	assert.NoError(t, s.Stop())
}
