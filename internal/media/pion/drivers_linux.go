//go:build linux

package pion

import (
	// Register capture drivers so GetUserMedia/GetDisplayMedia can enumerate
	// the local camera, microphone, and X11 screen.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
)
