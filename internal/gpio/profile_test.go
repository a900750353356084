package gpio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pins.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadProfile(t *testing.T) {
	path := writeProfile(t, "counter_pin: 23\nponderal_pin: 22\netiqueta_pin: 19\n")

	profile, err := LoadProfile(path)
	require.NoError(t, err)
	require.Equal(t, 23, profile.CounterPin)
	require.Equal(t, 22, profile.PonderalPin)
	require.Equal(t, 19, profile.EtiquetaPin)
}

func TestLoadProfileMissingField(t *testing.T) {
	path := writeProfile(t, "counter_pin: 23\nponderal_pin: 22\n")

	_, err := LoadProfile(path)
	require.Error(t, err)
}

func TestLoadProfileDuplicatePins(t *testing.T) {
	path := writeProfile(t, "counter_pin: 23\nponderal_pin: 23\netiqueta_pin: 19\n")

	_, err := LoadProfile(path)
	require.Error(t, err)
}

func TestLoadProfileUnknownKey(t *testing.T) {
	path := writeProfile(t, "counter_pin: 23\nponderal_pin: 22\netiqueta_pin: 19\nextra: 1\n")

	_, err := LoadProfile(path)
	require.Error(t, err)
}

func TestLoadProfileOutOfRange(t *testing.T) {
	path := writeProfile(t, "counter_pin: 99\nponderal_pin: 22\netiqueta_pin: 19\n")

	_, err := LoadProfile(path)
	require.Error(t, err)
}
