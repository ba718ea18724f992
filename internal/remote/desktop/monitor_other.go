//go:build !windows

package desktop

// ListMonitors reports the primary display. Bounds come from the grabber;
// refresh rate defaults to 60 where the platform offers no cheap query.
func ListMonitors() ([]Monitor, error) {
	g, err := newGrabber("0")
	if err != nil {
		return nil, err
	}
	defer g.Close()

	w, h, err := g.Bounds()
	if err != nil {
		return nil, err
	}
	return []Monitor{{
		ID:          "0",
		Name:        "Primary",
		RefreshRate: 60,
		Width:       w,
		Height:      h,
		IsPrimary:   true,
	}}, nil
}
