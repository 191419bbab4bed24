package database

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/models"
)

func TestConnectRedisPingsServer(t *testing.T) {
	server := miniredis.RunT(t)

	client, err := ConnectRedis(context.Background(), "redis://"+server.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
}

func TestConnectRedisRejectsEmptyURL(t *testing.T) {
	_, err := ConnectRedis(context.Background(), "")
	require.Error(t, err)
}

func TestConnectNATSDisabledWithoutURL(t *testing.T) {
	conn, err := ConnectNATS("", "test")
	require.NoError(t, err)
	require.Nil(t, conn)
}

func TestMigrateCreatesTables(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:migrate_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Migrate(db))
	require.True(t, db.Migrator().HasTable(&models.Submission{}))
	require.True(t, db.Migrator().HasTable(&models.NoteFolder{}))
	require.True(t, db.Migrator().HasTable(&models.UserScoreStat{}))
}
