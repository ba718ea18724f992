package desktop

import (
	"encoding/json"
	"testing"
)

func TestInputEventJSONRoundTrip(t *testing.T) {
	cases := []InputEvent{
		{Mouse: &MouseEvent{Action: MouseMove, X: 10, Y: 20}},
		{Mouse: &MouseEvent{Action: MouseDown, Button: ButtonLeft, X: 5, Y: 6}},
		{Mouse: &MouseEvent{Action: MouseUp, Button: ButtonRight, X: 5, Y: 6}},
		{Mouse: &MouseEvent{Action: MouseScrollWheel, Y: -3}},
		{Keyboard: &KeyboardEvent{Action: KeyDown, Keycode: KeycodeEnter}},
		{Keyboard: &KeyboardEvent{Action: KeyUp, Keycode: KeycodeA}},
	}
	for _, ev := range cases {
		data, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal %+v: %v", ev, err)
		}
		var got InputEvent
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		switch {
		case ev.Mouse != nil:
			if got.Mouse == nil || *got.Mouse != *ev.Mouse {
				t.Errorf("mouse round trip: got %+v, want %+v", got.Mouse, ev.Mouse)
			}
		case ev.Keyboard != nil:
			if got.Keyboard == nil || *got.Keyboard != *ev.Keyboard {
				t.Errorf("keyboard round trip: got %+v, want %+v", got.Keyboard, ev.Keyboard)
			}
		}
	}
}

func TestInputEventRejectsMalformed(t *testing.T) {
	var ev InputEvent
	if err := json.Unmarshal([]byte(`{"type":"gamepad"}`), &ev); err == nil {
		t.Fatal("unknown variant must be rejected")
	}
	if err := json.Unmarshal([]byte(`{"type":"mouse"}`), &ev); err == nil {
		t.Fatal("mouse without body must be rejected")
	}
	if _, err := json.Marshal(InputEvent{}); err == nil {
		t.Fatal("empty union must not marshal")
	}
	if _, err := json.Marshal(InputEvent{
		Mouse:    &MouseEvent{Action: MouseMove},
		Keyboard: &KeyboardEvent{Action: KeyUp},
	}); err == nil {
		t.Fatal("double-variant union must not marshal")
	}
}

func TestClampToMonitor(t *testing.T) {
	ev := InputEvent{Mouse: &MouseEvent{Action: MouseMove, X: -10, Y: 5000}}
	ev.ClampToMonitor(1920, 1080)
	if ev.Mouse.X != 0 || ev.Mouse.Y != 1079 {
		t.Fatalf("clamped to (%v,%v), want (0,1079)", ev.Mouse.X, ev.Mouse.Y)
	}

	in := InputEvent{Mouse: &MouseEvent{Action: MouseMove, X: 10, Y: 20}}
	in.ClampToMonitor(1920, 1080)
	if in.Mouse.X != 10 || in.Mouse.Y != 20 {
		t.Fatalf("in-range coordinates must not move: (%v,%v)", in.Mouse.X, in.Mouse.Y)
	}

	// Scroll deltas are not coordinates and must pass through.
	scroll := InputEvent{Mouse: &MouseEvent{Action: MouseScrollWheel, Y: -30}}
	scroll.ClampToMonitor(100, 100)
	if scroll.Mouse.Y != -30 {
		t.Fatalf("scroll delta clamped: %v", scroll.Mouse.Y)
	}
}
