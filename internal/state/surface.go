package state

import "image"

// View is the per-window filtered slice of the registry: only the tabs owned
// by that window, plus which of them is active. Windows never observe another
// window's tabs.
type View struct {
	Tabs        []Tab
	ActiveTabID string
}

// Surface is a live handle to a renderable window. The Coordinator pushes
// filtered views to it and signals window-level transitions; the transfer
// protocol queries its rectangle and toggles its drop indicator.
type Surface interface {
	// ID is the stable window identifier.
	ID() string

	// PushState delivers the window's filtered view after a mutation.
	PushState(View)

	// Rect reports the window's current screen rectangle. The rectangle is
	// queried on demand, never cached by the registry, because it changes
	// continuously during moves and resizes. ok is false when the position
	// is unknown on this platform.
	Rect() (r image.Rectangle, ok bool)

	// ShowDropIndicator toggles the tab-strip drop overlay during a
	// cross-window drag.
	ShowDropIndicator(visible bool)

	// Focus raises the window.
	Focus()

	// CloseWindow asks the window to close. Emitted by the Coordinator when
	// a transfer or removal leaves the window with zero tabs.
	CloseWindow()
}
