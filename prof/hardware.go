package prof

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// HardwareCalib holds the peak rates a kernel's achieved throughput is
// compared against.
type HardwareCalib struct {
	TFlopsPeak float64 `json:"TFlopsPeak" yaml:"TFlopsPeak"` // Peak dense FP16 TFLOP/s (e.g. 989.5 for H100 SXM)
	BwPeakTBs  float64 `json:"BwPeakTBs" yaml:"BwPeakTBs"`   // Peak HBM bandwidth in TB/s (e.g. 3.35 for H100 SXM)
}

// RidgePoint is the arithmetic intensity (FLOPs per byte) at which a kernel
// stops being memory bound.
func (h HardwareCalib) RidgePoint() float64 {
	if h.BwPeakTBs <= 0 {
		return 0
	}
	return h.TFlopsPeak / h.BwPeakTBs
}

// Validate rejects non-positive peaks.
func (h HardwareCalib) Validate() error {
	if h.TFlopsPeak <= 0 {
		return fmt.Errorf("TFlopsPeak must be > 0, got %v", h.TFlopsPeak)
	}
	if h.BwPeakTBs <= 0 {
		return fmt.Errorf("BwPeakTBs must be > 0, got %v", h.BwPeakTBs)
	}
	return nil
}

// HardwareList is the built-in table of datasheet peaks.
var HardwareList = map[string]HardwareCalib{
	"H100":    {TFlopsPeak: 989.5, BwPeakTBs: 3.35},
	"A100-80": {TFlopsPeak: 312, BwPeakTBs: 2.039},
	"A100-40": {TFlopsPeak: 312, BwPeakTBs: 1.555},
	"V100":    {TFlopsPeak: 125, BwPeakTBs: 0.9},
	"L40S":    {TFlopsPeak: 362, BwPeakTBs: 0.864},
}

// LoadHardwareFile reads a JSON file mapping GPU names to HardwareCalib.
func LoadHardwareFile(path string) (map[string]HardwareCalib, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hardware config %q: %w", path, err)
	}
	var list map[string]HardwareCalib
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse hardware config %q: %w", path, err)
	}
	return list, nil
}

// LookupHardware finds gpu in list and validates it.
func LookupHardware(list map[string]HardwareCalib, gpu string) (HardwareCalib, error) {
	hw, ok := list[gpu]
	if !ok {
		available := make([]string, 0, len(list))
		for k := range list {
			available = append(available, k)
		}
		sort.Strings(available)
		return HardwareCalib{}, fmt.Errorf("GPU %q not found in hardware config (available: %v)", gpu, available)
	}
	if err := hw.Validate(); err != nil {
		return HardwareCalib{}, fmt.Errorf("GPU %q: %w", gpu, err)
	}
	return hw, nil
}
