//go:build linux
// +build linux

package audio

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
)

var amixerPercentRe = regexp.MustCompile(`\[(\d+)%\]`)

type systemDevice struct{}

// get returns the current output volume on Linux using amixer.
func (systemDevice) get() (float64, error) {
	out, err := exec.Command("amixer", "get", "Master").Output()
	if err != nil {
		return 0, fmt.Errorf("amixer get: %w", err)
	}
	matches := amixerPercentRe.FindStringSubmatch(string(out))
	if len(matches) < 2 {
		return 0, fmt.Errorf("could not parse amixer output")
	}
	pct, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, fmt.Errorf("parse amixer volume: %w", err)
	}
	return float64(pct) / 100, nil
}

// set applies the output volume on Linux using amixer.
func (systemDevice) set(volume float64) error {
	pct := int(volume*100 + 0.5)
	if err := exec.Command("amixer", "set", "Master", fmt.Sprintf("%d%%", pct)).Run(); err != nil {
		return fmt.Errorf("amixer set: %w", err)
	}
	return nil
}
