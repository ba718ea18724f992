//go:build linux

package desktop

import "testing"

func TestKeysymMappingCoversCommonKeys(t *testing.T) {
	common := []Keycode{
		KeycodeA, KeycodeZ, Keycode1, Keycode0, KeycodeEnter, KeycodeEscape,
		KeycodeBackspace, KeycodeTab, KeycodeSpace, KeycodeDelete,
		KeycodeLeft, KeycodeRight, KeycodeUp, KeycodeDown,
		KeycodeLeftCtrl, KeycodeLeftShift, KeycodeLeftAlt, KeycodeLeftMeta,
	}
	for _, kc := range common {
		if _, ok := keycodeToKeysym(kc); !ok {
			t.Errorf("keycode %d has no keysym mapping", kc)
		}
	}
	if sym, ok := keycodeToKeysym(KeycodeA); !ok || sym != "a" {
		t.Errorf("KeycodeA maps to %q", sym)
	}
	if sym, ok := keycodeToKeysym(Keycode1); !ok || sym != "1" {
		t.Errorf("Keycode1 maps to %q", sym)
	}
	if _, ok := keycodeToKeysym(Keycode(999)); ok {
		t.Error("unmapped keycode must report !ok")
	}
}
