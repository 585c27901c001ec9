package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("PG_ENABLED", "false")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("PREDICTRUN_QUOTE_URL", "")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, appName)
	assert.Contains(t, out, version)
}

func TestEvaluateCmd_InMemory(t *testing.T) {
	out, err := run(t, "evaluate")
	require.NoError(t, err)
	assert.Contains(t, out, "evaluated 0 open trades")
}

func TestPredictCmd_NoModel(t *testing.T) {
	out, err := run(t, "predict")
	require.NoError(t, err)
	assert.Contains(t, out, "empty training batch")
	assert.Contains(t, out, "nothing published")
}

func TestSignalsCmd_NoBatch(t *testing.T) {
	out, err := run(t, "signals")
	require.NoError(t, err)
	assert.Contains(t, out, "no predictions available yet")
}

func TestIngestCmd_RequiresQuoteSource(t *testing.T) {
	_, err := run(t, "ingest")
	assert.ErrorContains(t, err, "no quote source")
}

func TestMigrateCmd_RequiresDatabase(t *testing.T) {
	_, err := run(t, "migrate")
	assert.ErrorContains(t, err, "database is disabled")
}

func TestSignalsCmd_FollowNeedsRedis(t *testing.T) {
	_, err := run(t, "signals", "--follow")
	assert.ErrorContains(t, err, "redis")
}
