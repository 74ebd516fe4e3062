package gfx

import (
	"fmt"
	"strings"
)

// An enumerable compute device capable of hosting an independent rendering
// context. Devices are immutable once enumerated.
type Device struct {
	// Position of the device in the platform's enumeration order.
	Index int

	// Human readable device name.
	Name string

	// Platform specific handle.
	Handle interface{}
}

// Implements Stringer.
func (d *Device) String() string {
	if d == nil {
		return "default display"
	}
	return fmt.Sprintf("#%d (%s)", d.Index, d.Name)
}

// A list of devices.
type DeviceList []*Device

// Return the devices whose names do not contain any of the blacklisted
// values.
func (l DeviceList) Filter(blacklist []string) DeviceList {
	filtered := make(DeviceList, 0, len(l))
	for _, dev := range l {
		keep := true
		for _, text := range blacklist {
			if text != "" && dev != nil && strings.Contains(dev.Name, text) {
				keep = false
				break
			}
		}
		if keep {
			filtered = append(filtered, dev)
		}
	}
	return filtered
}
