package config

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) Manager {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.PersistentFlags().String("config", "", "Path to a configuration file")
	return NewManager(cmd)
}

func TestLoadConfigDefaults(t *testing.T) {
	man := newTestManager(t)
	conf := man.LoadConfig()

	assert.Equal(t, "localhost:3306", conf.Mysql.Address)
	assert.Equal(t, "scimrelay", conf.Mysql.Database)
	assert.Equal(t, 50, conf.Mysql.MaxOpenConns)

	assert.True(t, conf.Scim.Enabled)
	assert.Equal(t, 5*time.Second, conf.Scim.PollInterval)
	assert.Equal(t, time.Hour, conf.Scim.TokenLifetime)
	assert.Equal(t, ProcessorScheduled, conf.Scim.Processor)
	assert.Equal(t, 30*time.Second, conf.Scim.HTTPTimeout)
	assert.Equal(t, 100, conf.Scim.BatchSize)
	assert.Equal(t, 10, conf.Scim.Workers)
	assert.Equal(t, 30*time.Second, conf.Scim.DrainTimeout)
	assert.Equal(t, 10*time.Minute, conf.Scim.StaleClaim)

	assert.False(t, conf.Logging.Debug)
	assert.False(t, conf.Logging.JSON)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SCIMRELAY_MYSQL_ADDRESS", "db.internal:3307")
	t.Setenv("SCIMRELAY_SCIM_ENABLED", "false")
	t.Setenv("SCIMRELAY_SCIM_POLL_INTERVAL", "250ms")
	t.Setenv("SCIMRELAY_SCIM_WORKERS", "3")

	man := newTestManager(t)
	conf := man.LoadConfig()

	assert.Equal(t, "db.internal:3307", conf.Mysql.Address)
	assert.False(t, conf.Scim.Enabled)
	assert.Equal(t, 250*time.Millisecond, conf.Scim.PollInterval)
	assert.Equal(t, 3, conf.Scim.Workers)
}

func TestProcessorValues(t *testing.T) {
	for _, processor := range []string{ProcessorScheduled, ProcessorCDI, ProcessorKafka, ProcessorAMQP} {
		t.Run(processor, func(t *testing.T) {
			t.Setenv("SCIMRELAY_SCIM_PROCESSOR", processor)
			man := newTestManager(t)
			assert.Equal(t, processor, man.LoadConfig().Scim.Processor)
		})
	}
}

func TestProcessorRejectsUnknown(t *testing.T) {
	t.Setenv("SCIMRELAY_SCIM_PROCESSOR", "carrier-pigeon")
	man := newTestManager(t)
	require.Panics(t, func() { man.LoadConfig() })
}

func TestEnvNameFromConfigKey(t *testing.T) {
	assert.Equal(t, "SCIMRELAY_MYSQL_MAX_OPEN_CONNS", envNameFromConfigKey("mysql.max_open_conns"))
	assert.Equal(t, "SCIMRELAY_SCIM_ENABLED", envNameFromConfigKey("scim.enabled"))
}

func TestIsSet(t *testing.T) {
	t.Setenv("SCIMRELAY_MYSQL_PASSWORD", "hunter2")
	man := newTestManager(t)
	man.LoadConfig()

	assert.True(t, man.IsSet("mysql.password"))
}
