package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadVenues(t *testing.T) {
	logger := zerolog.New(io.Discard)
	path := filepath.Join(t.TempDir(), "venues.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`venues:
  - id: v1
    name: Sân Bóng Phú Thọ
    address: 1 Lữ Gia
  - name: no id
`), 0o600))

	venues, err := loadVenues(path, &logger)
	require.NoError(t, err)
	assert.Len(t, venues, 1)

	v, ok := venues.lookup("v1")
	require.True(t, ok)
	assert.Equal(t, "Sân Bóng Phú Thọ", v.Name)
	assert.Equal(t, "1 Lữ Gia", v.Address)

	_, ok = venues.lookup("v2")
	assert.False(t, ok)
}

func TestLoadVenuesMissingFile(t *testing.T) {
	logger := zerolog.New(io.Discard)
	venues, err := loadVenues(filepath.Join(t.TempDir(), "absent.yaml"), &logger)
	require.NoError(t, err)
	assert.Empty(t, venues)
}

func TestLoadVenuesInvalidYAML(t *testing.T) {
	logger := zerolog.New(io.Discard)
	path := filepath.Join(t.TempDir(), "venues.yaml")
	require.NoError(t, os.WriteFile(path, []byte("venues: [\n"), 0o600))

	_, err := loadVenues(path, &logger)
	assert.Error(t, err)
}
