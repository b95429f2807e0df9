package chrome

import (
	"errors"
	"fmt"
	"sort"

	"github.com/chromedp/chromedp/device"
)

var ErrUnknownDevice = errors.New("unknown device")

// DefaultDevice is used when a recording session names no device and gives
// no explicit viewport.
const DefaultDevice = "Desktop 1280x800"

const desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Devices are the emulation presets a session can ask for by name.
var Devices = map[string]device.Info{
	"iPhone 12 Pro": {
		Name:      "iPhone 12 Pro",
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 14_7_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.2 Mobile/15E148 Safari/604.1",
		Width:     390,
		Height:    844,
		Scale:     1.0, // 1.0 keeps text at its desktop size
		Mobile:    true,
		Touch:     true,
	},
	"iPad Pro": {
		Name:      "iPad Pro",
		UserAgent: "Mozilla/5.0 (iPad; CPU OS 13_3 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/87.0.4280.77 Mobile/15E148 Safari/604.1",
		Width:     1024,
		Height:    1366,
		Scale:     1.0,
		Mobile:    true,
		Touch:     true,
	},
	"Galaxy S5": {
		Name:      "Galaxy S5",
		UserAgent: "Mozilla/5.0 (Linux; Android 5.0; SM-G900P Build/LRX21T) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Mobile Safari/537.36",
		Width:     360,
		Height:    640,
		Scale:     1.0,
		Mobile:    true,
		Touch:     true,
	},
	"Desktop 1280x800": {
		Name:      "Desktop 1280x800",
		UserAgent: desktopUA,
		Width:     1280,
		Height:    800,
		Scale:     1.0,
	},
	"Desktop 1920x1080": {
		Name:      "Desktop 1920x1080",
		UserAgent: desktopUA,
		Width:     1920,
		Height:    1080,
		Scale:     1.0,
	},
}

// Viewport describes the emulation a recording session asked for. A named
// preset wins; otherwise Width, Height and UserAgent override the default
// device field by field.
type Viewport struct {
	Device    string `json:"device"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	UserAgent string `json:"user_agent"`
}

// Resolve returns the device to emulate for v.
func (v Viewport) Resolve() (device.Info, error) {
	if v.Device != "" {
		dev, ok := Devices[v.Device]
		if !ok {
			return device.Info{}, fmt.Errorf("%w: %q", ErrUnknownDevice, v.Device)
		}
		return dev, nil
	}
	dev := Devices[DefaultDevice]
	if v.Width > 0 {
		dev.Width = int64(v.Width)
	}
	if v.Height > 0 {
		dev.Height = int64(v.Height)
	}
	if v.UserAgent != "" {
		dev.UserAgent = v.UserAgent
	}
	if v.Width > 0 || v.Height > 0 {
		dev.Name = "Custom"
	}
	return dev, nil
}

// DeviceNames lists the presets in a stable order.
func DeviceNames() []string {
	names := make([]string, 0, len(Devices))
	for name := range Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
