// sample implementation, do not build or test
//go:build ignore

package main

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DeviceHWID derives a stable hardware id from platform identifiers. The
// server treats it as opaque, so any scheme works as long as it is stable
// and at most 255 characters.
func DeviceHWID() string {
	raw := strings.Join([]string{
		getMachineID(),
		getCPUID(),
		getDiskID(),
	}, "|")

	sum := sha256.Sum256([]byte(raw))
	return strings.ToUpper(hex.EncodeToString(sum[:16]))
}
