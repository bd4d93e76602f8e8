package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/parking-engine/billing"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, billing.DefaultRules(), cfg.Rules())
	assert.Equal(t, 30, cfg.DefaultCycleDays)
	assert.Equal(t, "0 7 * * *", cfg.SweepSchedule)
	assert.True(t, cfg.SweepEnabled)
	assert.Equal(t, []string{"log"}, cfg.NotifierNames())
	assert.Equal(t, 40, cfg.Capacity().Spaces[billing.VehicleCar])
}

func TestLoad_EnvOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("PORT", "9090")
	t.Setenv("GRACE_PERIOD_DAYS", "0")
	t.Setenv("CRITICAL_AFTER_DAYS", "90")
	t.Setenv("NOTIFIERS", "log, Email ,broker")
	t.Setenv("RESEND_API_KEY", "re_test")
	t.Setenv("ALLOWED_ORIGINS", "https://admin.parking.local,https://app.parking.local")
	t.Setenv("CAPACITY_TRUCK", "2")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 0, cfg.Rules().GracePeriodDays)
	assert.Equal(t, 90, cfg.Rules().CriticalAfterDays)
	assert.Equal(t, []string{"log", "email", "broker"}, cfg.NotifierNames())
	assert.Equal(t, []string{"https://admin.parking.local", "https://app.parking.local"}, cfg.Origins())
	assert.Equal(t, 2, cfg.Capacity().Spaces[billing.VehicleTruck])
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bands out of order", "OVERDUE_MAX_DAYS", "2"},
		{"bad cron", "SWEEP_SCHEDULE", "every tuesday"},
		{"unknown notifier", "NOTIFIERS", "log,pager"},
		{"email without api key", "NOTIFIERS", "log,email"},
		{"zero cycle", "DEFAULT_CYCLE_DAYS", "0"},
		{"negative capacity", "CAPACITY_CAR", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)
			t.Setenv(tt.key, tt.val)

			_, err := Load()

			assert.ErrorIs(t, err, billing.ErrInvalidConfiguration)
		})
	}
}
