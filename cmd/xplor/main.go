package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"sync/atomic"
	"time"

	gioapp "gioui.org/app"

	"github.com/xplor-dev/xplor/internal/bridge"
	"github.com/xplor-dev/xplor/internal/config"
	"github.com/xplor-dev/xplor/internal/debug"
	"github.com/xplor-dev/xplor/internal/ops"
	"github.com/xplor-dev/xplor/internal/protocol"
	"github.com/xplor-dev/xplor/internal/state"
	"github.com/xplor-dev/xplor/internal/transfer"
	"github.com/xplor-dev/xplor/internal/ui"
)

var (
	windowSeq   atomic.Int64
	liveWindows atomic.Int64
)

func nextWindowID() string {
	return fmt.Sprintf("win-%d", windowSeq.Add(1))
}

func main() {
	debugFlag := flag.Bool("debug", false, "Enable verbose debug logging")
	configPath := flag.String("config", "", "Path to config.json")
	startPath := flag.String("path", "", "Initial directory (default: landing view)")
	flag.Parse()

	if *debugFlag {
		debug.EnableAll()
	}

	mgr := config.NewManager()
	if err := mgr.Load(*configPath); err != nil {
		log.Printf("config: %v, running on defaults", err)
	}
	cfg := mgr.Get()
	if perr := mgr.ParseError(); perr != nil {
		log.Printf("config: parse error: %v, running on defaults", perr)
	}

	br := bridge.New(bridge.WithTimeout(cfg.RequestTimeout()))
	if err := br.Connect(cfg.Backend.RequestAddr, cfg.Backend.EventAddr); err != nil {
		log.Fatalf("connect to xplord: %v", err)
	}

	coord := state.NewCoordinator()
	tracker := ops.NewTracker(coord, func(operationID string) {
		br.Notify(protocol.ActionCancel, map[string]any{"operation_id": operationID})
	})

	applyTheme(br, cfg.UI.Theme)

	winOpts := ui.Options{
		ShowDotfiles:  cfg.UI.ShowDotfiles,
		SortAscending: cfg.UI.SortAscending,
	}
	switch cfg.Tabs.NewTabLocation {
	case "home":
		winOpts.NewTabPath, _ = os.UserHomeDir()
	case "custom":
		winOpts.NewTabPath = cfg.Tabs.CustomPath
	}

	dragCfg := transfer.Config{
		Threshold:    cfg.Transfer.DragThresholdPx,
		StripHeight:  cfg.Transfer.StripHeightPx,
		PollInterval: time.Duration(cfg.Transfer.PollIntervalMs) * time.Millisecond,
	}

	// The spawner and the drag machine reference each other, so wire the
	// machine through the closure.
	var drag *transfer.Drag
	spawn := func(tab state.Tab, at image.Point) {
		w := ui.NewWindow(nextWindowID(), coord, br, tracker, drag, winOpts)
		coord.RegisterWindow(w)
		w.SetCleanup(br.AddListener(w.Session().HandleEvent))
		coord.AddTab(tab, w.ID())
		runWindow(w)
	}
	drag = transfer.New(dragCfg, coord, spawn)

	first := ui.NewWindow(nextWindowID(), coord, br, tracker, drag, winOpts)
	coord.RegisterWindow(first)
	first.SetCleanup(br.AddListener(first.Session().HandleEvent))
	first.Session().OpenTab(*startPath)
	runWindow(first)

	gioapp.Main()
}

// applyTheme resolves the configured theme name: the built-ins locally, any
// other value as a stored theme id fetched from the backend.
func applyTheme(br *bridge.Bridge, name string) {
	switch name {
	case "", "light":
		return
	case "dark":
		ui.DarkTheme()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := br.Call(ctx, protocol.ActionThemeGet, map[string]any{"id": name})
	if err != nil {
		log.Printf("theme %q: %v, keeping defaults", name, err)
		return
	}
	var th protocol.Theme
	if err := json.Unmarshal(data, &th); err != nil {
		log.Printf("theme %q: decode: %v", name, err)
		return
	}
	ui.ApplyTheme(th.Colors)
}

// runWindow drives one window's event loop; the process exits when the last
// window is destroyed.
func runWindow(w *ui.Window) {
	liveWindows.Add(1)
	go func() {
		if err := w.Run(); err != nil {
			log.Printf("window %s: %v", w.ID(), err)
		}
		if liveWindows.Add(-1) == 0 {
			os.Exit(0)
		}
	}()
}
