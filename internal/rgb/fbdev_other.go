//go:build !linux

package rgb

import (
	"errors"
	"image"
)

// FBDev needs a Linux framebuffer device. On other platforms Configure
// always fails and the remaining methods do nothing.
type FBDev struct{}

func NewFBDev(string, Mode) *FBDev { return &FBDev{} }

func (*FBDev) Configure(Timing, Pins) error {
	return errors.New("rgb: fbdev is only available on linux")
}

func (*FBDev) Start() (*FrameBuffer, error) { return nil, errNotConfigured }

func (*FBDev) NotifyRegionUpdated(image.Rectangle) {}

func (*FBDev) Close() error { return nil }
