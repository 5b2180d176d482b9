package prof

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupHardware_BuiltIn(t *testing.T) {
	hw, err := LookupHardware(HardwareList, "H100")
	require.NoError(t, err)
	assert.Equal(t, 989.5, hw.TFlopsPeak)
	assert.InDelta(t, 989.5/3.35, hw.RidgePoint(), 1e-9)
}

func TestLoadHardwareFile(t *testing.T) {
	// GIVEN a JSON hardware file
	path := filepath.Join(t.TempDir(), "hardware_config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"MI300X": {"TFlopsPeak": 1307.4, "BwPeakTBs": 5.3}}`), 0o644))

	// WHEN loaded and looked up
	list, err := LoadHardwareFile(path)
	require.NoError(t, err)
	hw, err := LookupHardware(list, "MI300X")

	// THEN the file entry is used
	require.NoError(t, err)
	assert.Equal(t, 5.3, hw.BwPeakTBs)

	// AND unknown GPUs list the available ones
	_, err = LookupHardware(list, "H100")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MI300X")
}

func TestLoadHardwareFile_Errors(t *testing.T) {
	_, err := LoadHardwareFile(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"H100": 3}`), 0o644))
	_, err = LoadHardwareFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.json")
}

func TestLookupHardware_RejectsNonPositivePeaks(t *testing.T) {
	_, err := LookupHardware(map[string]HardwareCalib{"bad": {TFlopsPeak: 1}}, "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BwPeakTBs")
}
