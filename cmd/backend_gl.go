//go:build gl

package cmd

import (
	"github.com/MoriEdan/libvtsoffscreen/config"
	"github.com/MoriEdan/libvtsoffscreen/gfx"
	"github.com/MoriEdan/libvtsoffscreen/gfx/glfw"
)

func init() {
	registerBackend("glfw", func(cfg *config.Config) (gfx.Platform, func(), error) {
		platform := glfw.NewPlatform()
		return platform, platform.Terminate, nil
	})
}
