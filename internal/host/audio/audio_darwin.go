//go:build darwin
// +build darwin

package audio

import (
	"fmt"
	"os/exec"
)

type systemDevice struct{}

// get returns the current output volume on macOS.
func (systemDevice) get() (float64, error) {
	out, err := exec.Command("osascript", "-e", "output volume of (get volume settings)").Output()
	if err != nil {
		return 0, fmt.Errorf("osascript get: %w", err)
	}
	var pct int
	if _, err := fmt.Sscanf(string(out), "%d", &pct); err != nil {
		return 0, fmt.Errorf("parse osascript output: %w", err)
	}
	return float64(pct) / 100, nil
}

// set applies the output volume on macOS.
func (systemDevice) set(volume float64) error {
	pct := int(volume*100 + 0.5)
	script := fmt.Sprintf("set volume output volume %d", pct)
	if err := exec.Command("osascript", "-e", script).Run(); err != nil {
		return fmt.Errorf("osascript set: %w", err)
	}
	return nil
}
