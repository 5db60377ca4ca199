package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDBSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := NewDB(ctx, "", filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, DriverSQLite, db.Driver)
	assert.True(t, db.Healthy(ctx))
	require.NoError(t, db.Close())
	assert.False(t, db.Healthy(ctx))
}

func TestNewDBUnknownDriver(t *testing.T) {
	_, err := NewDB(context.Background(), "mysql", "x")
	assert.Error(t, err)
}

func TestRedisHealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedis(mr.Addr())
	defer r.Close()
	assert.True(t, r.Healthy(context.Background()))

	mr.Close()
	assert.False(t, r.Healthy(context.Background()))

	assert.Error(t, r.Check(context.Background()))

	var nilRedis *Redis
	assert.False(t, nilRedis.Healthy(context.Background()))
}

func TestRedisURL(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedis("redis://" + mr.Addr() + "/0")
	defer r.Close()
	assert.NoError(t, r.Check(context.Background()))
	assert.Equal(t, time.Second, r.Client.Options().ReadTimeout)
}
