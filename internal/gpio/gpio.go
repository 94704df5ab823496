// Package gpio is the hardware boundary of the sync tools.
// The real implementation uses the Linux GPIO character device: the input
// trigger is a rising-edge line whose kernel event timestamps feed the
// regulator, and outputs are plain output lines.
// The fake implementations allow testing without hardware.
package gpio

// DefaultChip is the GPIO chip of the Raspberry Pi header.
const DefaultChip = "gpiochip0"

// Pin definitions (BCM numbering)
const (
	DefaultPinSyncIn        = 17 // external sync input (RealSense or genlock)
	DefaultPinSyncRealSense = 22 // RealSense sync output
	DefaultPinSyncGenlock   = 27 // genlock output
)

// Consumer is the label the kernel shows for requested lines.
const Consumer = "vrt-sync"

// Level converts an active flag to a line value.
func Level(active bool) int {
	if active {
		return 1
	}
	return 0
}
