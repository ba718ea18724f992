//go:build windows

package desktop

// WASAPI loopback capture binds through COM interfaces that are not yet
// integrated in this tree; sessions run without audio until then.
func newPlatformAudioCapturer() AudioCapturer {
	return nil
}
