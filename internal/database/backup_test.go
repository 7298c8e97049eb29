package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fieldsync/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupService(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.SetMany(ctx, map[string]string{"active_queue": "[]"}))

	storagePath := filepath.Join(t.TempDir(), "backups")
	cfg := config.BackupConfig{
		Enabled:       true,
		StoragePath:   storagePath,
		RetentionDays: 1,
	}
	logger := zerolog.Nop()
	s := NewBackupService(db, cfg, &logger)

	t.Run("PerformBackup", func(t *testing.T) {
		path, err := s.PerformBackup(ctx)
		require.NoError(t, err)
		assert.FileExists(t, path)

		restored, err := NewDB(path, &logger)
		require.NoError(t, err)
		defer restored.Close()

		value, ok, err := restored.Get(ctx, "active_queue")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "[]", value)
	})

	t.Run("CleanupOldBackups", func(t *testing.T) {
		oldFile := filepath.Join(storagePath, "queue_old.db")
		require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0o644))

		oldTime := time.Now().AddDate(0, 0, -2)
		require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

		s.CleanupOldBackups()

		files, err := os.ReadDir(storagePath)
		require.NoError(t, err)
		for _, f := range files {
			assert.NotEqual(t, "queue_old.db", f.Name())
		}
	})
}

func TestBackupService_Disabled(_ *testing.T) {
	logger := zerolog.Nop()
	s := NewBackupService(nil, config.BackupConfig{Enabled: false}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Start(ctx)
}
