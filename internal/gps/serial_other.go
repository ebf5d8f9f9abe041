//go:build !linux

package gps

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"go.bug.st/serial"
)

// openSerial opens a serial port in 8N1 mode at baud.
func openSerial(path string, baud int) (io.ReadCloser, error) {
	p, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		var pe *serial.PortError
		if errors.As(err, &pe) {
			switch pe.Code() {
			case serial.PermissionDenied, serial.PortBusy:
				return nil, &os.PathError{Op: "open", Path: path, Err: fs.ErrPermission}
			case serial.PortNotFound:
				return nil, &os.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
			case serial.InvalidSpeed:
				return nil, fmt.Errorf("unsupported baud %d", baud)
			}
		}
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return p, nil
}
