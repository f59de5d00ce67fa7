package dmimu

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"
	"imu_apiserver/internal/config"
	"io"
	"time"
)

var (
	ErrUnsupportedBaudRate = errors.New("unsupported baud rate")
	ErrOpen                = errors.New("cannot open imu serial port")
	ErrPortClosed          = errors.New("port not open")
)

// SupportedBaudRates lists the rates the device firmware can stream at
var SupportedBaudRates = []int{115200, 230400, 460800, 921600}

// Port is the serial handle used by the driver. *serial.Port satisfies it.
type Port interface {
	io.ReadWriteCloser
	Flush() error
}

// PortOpener opens the port described by opt
type PortOpener func(opt config.IMUOpt, readTimeout time.Duration) (Port, error)

// CheckBaud reports ErrUnsupportedBaudRate for rates outside SupportedBaudRates
func CheckBaud(baud int) error {
	for _, b := range SupportedBaudRates {
		if b == baud {
			return nil
		}
	}
	return errors.Wrapf(ErrUnsupportedBaudRate, "%d", baud)
}

// Open opens the serial port at 8N1 without flow control. Reads return as soon as
// any byte is available and give up after readTimeout.
func Open(opt config.IMUOpt, readTimeout time.Duration) (Port, error) {
	if err := CheckBaud(opt.Baud); err != nil {
		return nil, err
	}
	c := &serial.Config{
		Name:        opt.Name,
		Baud:        opt.Baud,
		ReadTimeout: readTimeout,
		Size:        serial.DefaultSize,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	}
	port, err := serial.OpenPort(c)
	if err != nil {
		return nil, errors.Wrapf(ErrOpen, "%s: %v", opt.Name, err)
	}
	if err = port.Flush(); err != nil {
		log.Debugf("flush %s: %v", opt.Name, err)
	}
	log.Infof("imu serial port %s opened at %d baud", opt.Name, opt.Baud)
	return port, nil
}

// ReadFrame does a single read into buf and returns what arrived. Fewer bytes
// than a frame is dropped by the caller; discarding the rest of a split packet is
// what brings the stream back onto a frame boundary. A read that times out
// returns 0 and no error.
func ReadFrame(port Port, buf []byte) (int, error) {
	if port == nil {
		return 0, ErrPortClosed
	}
	n, err := port.Read(buf)
	if err == io.EOF {
		// zero-length read on timeout
		return n, nil
	}
	return n, err
}

// WriteAll writes b in full
func WriteAll(port io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := port.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}
