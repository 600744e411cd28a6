package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVideoRequestDefaults(t *testing.T) {
	req := GenerateVideoRequest{CharacterID: "c1", Script: "hello"}
	req.Normalize()

	assert.Equal(t, DefaultVideoDuration, req.Duration)
	assert.Equal(t, "realistic", req.Style)
	assert.Equal(t, "standard", req.Quality)
	assert.NoError(t, req.Validate())
}

func TestGenerateVideoRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  GenerateVideoRequest
		want error
	}{
		{"missing script", GenerateVideoRequest{Script: " ", Duration: 30, Style: "realistic", Quality: "high"}, ErrScriptRequired},
		{"too long", GenerateVideoRequest{Script: "s", Duration: 301, Style: "realistic", Quality: "high"}, ErrInvalidDuration},
		{"bad style", GenerateVideoRequest{Script: "s", Duration: 30, Style: "noir", Quality: "high"}, ErrInvalidStyle},
		{"bad quality", GenerateVideoRequest{Script: "s", Duration: 30, Style: "cartoon", Quality: "8k"}, ErrInvalidQuality},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.req.Validate(), tt.want)
		})
	}
}

func TestCharacterData(t *testing.T) {
	var c Character
	data, err := c.Data()
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, c.SetData(map[string]any{"hair": "red"}))
	data, err = c.Data()
	require.NoError(t, err)
	assert.Equal(t, "red", data["hair"])
}

func TestUpdateCharacterRequest(t *testing.T) {
	name := "  Ada "
	public := true
	c := Character{Name: "old"}

	req := UpdateCharacterRequest{Name: &name, IsPublic: &public}
	require.NoError(t, req.Validate())
	require.NoError(t, req.Apply(&c))
	assert.Equal(t, "Ada", c.Name)
	assert.True(t, c.IsPublic)

	empty := ""
	assert.ErrorIs(t, (&UpdateCharacterRequest{Name: &empty}).Validate(), ErrNameRequired)
}

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("a@example.com"))
	assert.False(t, ValidEmail("not-an-email"))
	assert.False(t, ValidEmail("Name <a@example.com>"))
}
