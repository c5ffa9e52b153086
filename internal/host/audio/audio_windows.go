//go:build windows
// +build windows

package audio

import "fmt"

type systemDevice struct{}

// get is a stub on Windows. Volume control here needs the Core Audio
// endpoint volume API; wire it up via go-ole when Windows support
// lands.
func (systemDevice) get() (float64, error) {
	return 0, fmt.Errorf("volume control not implemented for Windows")
}

func (systemDevice) set(volume float64) error {
	return fmt.Errorf("volume control not implemented for Windows")
}
