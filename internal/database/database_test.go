package database

import (
	"context"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "disconnecting", StateDisconnecting.String())
	assert.Equal(t, 3, int(StateDisconnecting))
}

func TestNilMongo(t *testing.T) {
	var m *Mongo
	assert.Equal(t, StateDisconnected, m.State(context.Background()))
	assert.NoError(t, m.Close(context.Background()))
}

func TestMySQLParams_DSN(t *testing.T) {
	dsn := MySQLParams{User: "clubs", Pass: "pw", Host: "db", Port: "3306", Name: "clubs"}.DSN()
	assert.True(t, strings.HasPrefix(dsn, "clubs:pw@tcp(db:3306)/clubs?"), dsn)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestMigrations_ArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationFS, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationFS, "migrations/*.down.sql")
	require.NoError(t, err)

	require.NotEmpty(t, ups)
	require.Len(t, downs, len(ups))
	for i, up := range ups {
		assert.Equal(t, strings.TrimSuffix(up, ".up.sql"), strings.TrimSuffix(downs[i], ".down.sql"))
	}
}
