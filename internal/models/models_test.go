package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULID_RoundTrip(t *testing.T) {
	id := NewULID()
	assert.False(t, id.IsZero())
	assert.WithinDuration(t, time.Now(), id.Time(), time.Second)

	parsed, err := ParseULID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseULID("not-a-ulid")
	assert.Error(t, err)
}

func TestULID_ValueScan(t *testing.T) {
	var zero ULID
	v, err := zero.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	id := NewULID()
	v, err = id.Value()
	require.NoError(t, err)

	var scanned ULID
	require.NoError(t, scanned.Scan(v))
	assert.Equal(t, id, scanned)

	require.NoError(t, scanned.Scan([]byte(id.String())))
	assert.Equal(t, id, scanned)

	require.NoError(t, scanned.Scan(nil))
	assert.True(t, scanned.IsZero())

	assert.Error(t, scanned.Scan(42))
}

func TestULID_JSON(t *testing.T) {
	a := Alert{BaseModel: BaseModel{ID: NewULID()}, CameraID: "cam1", Title: "t", Message: "m"}
	b, err := json.Marshal(a)
	require.NoError(t, err)

	var out Alert
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, a.ID, out.ID)
	assert.Equal(t, "cam1", out.CameraID)
}

func TestBaseModel_BeforeCreate(t *testing.T) {
	var m BaseModel
	require.NoError(t, m.BeforeCreate(nil))
	assert.False(t, m.ID.IsZero())

	existing := m.ID
	require.NoError(t, m.BeforeCreate(nil))
	assert.Equal(t, existing, m.ID)
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "settings", Setting{}.TableName())
	assert.Equal(t, "alerts", Alert{}.TableName())
}
