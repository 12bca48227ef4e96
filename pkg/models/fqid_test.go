package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openslides/vmrepo/pkg/constants"
	"github.com/openslides/vmrepo/pkg/models"
)

func TestParseFQID(t *testing.T) {
	fqid, err := models.ParseFQID("motion/5")
	require.NoError(t, err)
	assert.Equal(t, models.NewFQID("motion", 5), fqid)
	assert.Equal(t, "motion/5", fqid.String())

	for _, invalid := range []string{"", "motion", "motion/", "/5", "motion/abc", "motion/0", "motion/5/title"} {
		_, err := models.ParseFQID(invalid)
		assert.ErrorIs(t, err, constants.ErrInvalidFQID, invalid)
	}
}

func TestParseFQField(t *testing.T) {
	fqfield, err := models.ParseFQField("motion_state/12/next_state_ids")
	require.NoError(t, err)
	assert.Equal(t, "motion_state", fqfield.Collection)
	assert.Equal(t, models.ID(12), fqfield.ID)
	assert.Equal(t, "next_state_ids", fqfield.Field)
	assert.Equal(t, "motion_state/12/next_state_ids", fqfield.String())

	for _, invalid := range []string{"motion/5", "motion/5/", "motion/x/title", "title"} {
		_, err := models.ParseFQField(invalid)
		assert.ErrorIs(t, err, constants.ErrInvalidFQField, invalid)
	}
}

func TestRecordKeys(t *testing.T) {
	r := models.NewRecord("motion", 3, map[string]any{"weight": 2, "title": "A"})
	assert.Equal(t, []string{"id", "title", "weight"}, r.Keys())

	v, ok := r.Get("id")
	require.True(t, ok)
	assert.Equal(t, models.ID(3), v)
	assert.True(t, r.Has("title"))
	assert.False(t, r.Has("number"))
}

func TestToIDs(t *testing.T) {
	assert.Equal(t, []models.ID{1, 2}, models.ToIDs([]any{float64(1), "x", float64(2)}))
	id, ok := models.ToID(float64(7))
	require.True(t, ok)
	assert.Equal(t, models.ID(7), id)
	_, ok = models.ToID(1.5)
	assert.False(t, ok)
}
