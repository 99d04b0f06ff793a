package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"runtime"

	"github.com/gekko3d/atmosphere"
	"github.com/gekko3d/atmosphere/skyrt/rt/app"

	"github.com/go-gl/glfw/v3.3/glfw"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("config", "atmosphere.toml", "TOML config; reloaded when it changes")
	dumpDir := flag.String("dump", "", "Write the LUTs of one frame as TIFF to this directory and exit")
	animate := flag.Bool("animate", false, "Animate the sun elevation")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg := atmosphere.DefaultConfig()
	loaded, err := atmosphere.LoadConfig(*configPath)
	switch {
	case err == nil:
		cfg = loaded
	case errors.Is(err, os.ErrNotExist):
	default:
		panic(err)
	}
	if *debug {
		cfg.Debug = true
	}
	logger := atmosphere.NewDefaultLogger(cfg.LogPrefix, cfg.Debug)

	if err := glfw.Init(); err != nil {
		panic(err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(1280, 720, "Atmosphere", nil, nil)
	if err != nil {
		panic(err)
	}
	defer window.Destroy()

	lut := cfg.Lut
	application := app.NewApp(window, app.Options{
		Atmosphere:     cfg.Atmosphere.Parameters(),
		Settings:       lut.Settings,
		MaxIdleFrames:  cfg.MaxIdleFrames,
		LogEveryFrames: cfg.LogEveryFrames,
		CompileWorkers: cfg.CompileWorkers,
		ValidateWGSL:   cfg.ValidateShaders,
		Readback:       cfg.Readback || *dumpDir != "",
		Logger:         logger,
	})
	application.AnimateSun = *animate
	if err := application.Init(); err != nil {
		panic(err)
	}
	defer application.Release()

	if *dumpDir != "" {
		files, err := application.DumpLUTs(*dumpDir)
		if err != nil {
			panic(err)
		}
		for _, f := range files {
			logger.Infof("wrote %s", f)
		}
		return
	}

	// the watcher runs on its own goroutine; reloads are applied between frames
	reloads := make(chan atmosphere.Config, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := os.Stat(*configPath); err == nil {
		err := atmosphere.WatchConfig(ctx, *configPath, logger, func(c atmosphere.Config) {
			select {
			case <-reloads:
			default:
			}
			reloads <- c
		})
		if err != nil {
			logger.Warnf("not watching %s: %v", *configPath, err)
		}
	}

	window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		application.Resize(width, height)
	})

	window.SetCursorPosCallback(func(w *glfw.Window, xpos, ypos float64) {
		if application.MouseCaptured {
			dx := float32(xpos - 640)
			dy := float32(ypos - 360)

			application.Camera.Yaw += dx * application.Camera.Sensitivity
			application.Camera.Pitch -= dy * application.Camera.Sensitivity
			application.Camera.Pitch = min(max(application.Camera.Pitch, -1.55), 1.55)

			w.SetCursorPos(640, 360)
		}
	})

	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if key == glfw.KeyTab && action == glfw.Press {
			application.MouseCaptured = !application.MouseCaptured
			if application.MouseCaptured {
				w.SetInputMode(glfw.CursorMode, glfw.CursorDisabled)
				w.SetCursorPos(640, 360)
			} else {
				w.SetInputMode(glfw.CursorMode, glfw.CursorNormal)
			}
		}
		if key == glfw.KeyEscape && action == glfw.Press {
			w.SetShouldClose(true)
		}
		if key == glfw.KeyP && action == glfw.Press {
			application.AnimateSun = !application.AnimateSun
		}
	})

	for !window.ShouldClose() {
		select {
		case c := <-reloads:
			lut := c.Lut
			application.Options.Atmosphere = c.Atmosphere.Parameters()
			application.Options.Settings = lut.Settings
			application.Sky.SetLogEveryFrames(c.LogEveryFrames)
			logger.SetDebug(c.Debug || *debug)
			logger.Infof("reloaded %s", *configPath)
		default:
		}

		glfw.PollEvents()
		application.Update()
		application.Render()
	}
}
