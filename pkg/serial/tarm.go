package serial

import (
	"errors"
	"fmt"
	"io"
	"os"

	tarm "github.com/tarm/serial"
)

// tarmPort wraps the portable library behind the Channel surface. The
// library's timeout reads already return (0, io.EOF) on no data; that
// is normalised to (0, nil) here.
type tarmPort struct {
	port   *tarm.Port
	device string
}

func openTarm(cfg Config) (*tarmPort, error) {
	port, err := tarm.OpenPort(&tarm.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}
	return &tarmPort{port: port, device: cfg.Device}, nil
}

func (t *tarmPort) Read(buf []byte) (int, error) {
	n, err := t.port.Read(buf)
	if n == 0 && (err == nil || errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded)) {
		return 0, nil
	}
	return n, err
}

func (t *tarmPort) Write(buf []byte) (int, error) {
	return t.port.Write(buf)
}

func (t *tarmPort) Flush() error {
	return t.port.Flush()
}

func (t *tarmPort) Close() error {
	return t.port.Close()
}
