package db

import (
	"bytes"
	"log"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestSentinelVolunteerCreatedOnce(t *testing.T) {
	gdb, err := Open("sqlite://" + filepath.Join(t.TempDir(), "seed.db"))
	require.NoError(t, err)
	require.NoError(t, RunMigrations(gdb))

	var logs bytes.Buffer
	quiet := gdb.Session(&gorm.Session{Logger: logger.New(log.New(&logs, "", 0), logger.Config{LogLevel: logger.Warn})})

	first, err := SentinelVolunteer(quiet)
	require.NoError(t, err)
	assert.True(t, first.IsSentinel)

	again, err := SentinelVolunteer(quiet)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.NotContains(t, logs.String(), "record not found")

	ok, err := TryAdvisoryXactLock(gdb, "lottery:meal:2025-W10")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, AdvisoryXactLock(gdb, "lottery:meal:2025-W10"))
}
