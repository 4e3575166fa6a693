package volumestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadVolumeDefaultsWhenUnset(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "volume.db"))
	require.NoError(t, err)
	defer s.Close()

	v, err := s.LoadVolume()
	require.NoError(t, err)
	require.Equal(t, DefaultVolume, v)
}

func TestStoreVolumeRoundTrips(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "volume.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.StoreVolume(77))
	v, err := s.LoadVolume()
	require.NoError(t, err)
	require.Equal(t, uint8(77), v)
}
