package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	ID   uint64 `gorm:"primaryKey"`
	Name string
}

func TestConnect_SQLiteAutoMigrates(t *testing.T) {
	gdb, err := Connect("file:"+t.Name()+"?mode=memory&cache=shared", &widget{})
	require.NoError(t, err)
	require.NoError(t, gdb.Create(&widget{Name: "x"}).Error)

	var n int64
	require.NoError(t, gdb.Model(&widget{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestConnect_NoModelsSkipsMigration(t *testing.T) {
	gdb, err := Connect("file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	assert.False(t, gdb.Migrator().HasTable(&widget{}))
}
