//go:build windows

package capture

import "errors"

type windowsGrabber struct{ tempDir string }

func newGrabber(tempDir string) grabber {
	return &windowsGrabber{tempDir: tempDir}
}

func (w *windowsGrabber) available() error {
	// TODO: Implement using Windows GDI or DXGI
	return errors.New("screen capture is not implemented on windows")
}

func (w *windowsGrabber) grab(Region) ([]byte, error) {
	return nil, errors.New("screen capture is not implemented on windows")
}

func (w *windowsGrabber) cleanup() {}
