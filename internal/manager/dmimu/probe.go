package dmimu

import (
	"errors"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial/enumerator"
	"imu_apiserver/internal/config"
	"imu_apiserver/internal/sensor/dmimu"
	"time"
)

const probeReadTimeout = 200 * time.Millisecond

// ListSerialPorts lists the serial ports known to the OS
func ListSerialPorts() ([]string, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	ports := make([]string, 0, len(details))
	for _, d := range details {
		if d.IsUSB {
			log.Debugf("port %s: usb %s:%s %s", d.Name, d.VID, d.PID, d.Product)
		}
		ports = append(ports, d.Name)
	}
	return ports, nil
}

// testPort reports whether the port streams at least one full frame header at baud
func testPort(open dmimu.PortOpener, portName string, baud int) bool {
	port, err := open(config.IMUOpt{Name: portName, Baud: baud}, probeReadTimeout)
	if err != nil {
		return false
	}
	defer func() { _ = port.Close() }()

	buf := make([]byte, 2*dmimu.FrameSize)
	n := 0
	for n < len(buf) {
		got, err := dmimu.ReadFrame(port, buf[n:])
		if err != nil {
			return false
		}
		if got == 0 {
			break
		}
		n += got
	}
	return hasFrameHeader(buf[:n])
}

// hasFrameHeader reports whether p holds the leading bytes of a subframe anywhere
func hasFrameHeader(p []byte) bool {
	for i := 0; i+2 < len(p); i++ {
		if p[i] == dmimu.FrameHeader && p[i+1] == dmimu.FrameFlag && p[i+2] == dmimu.FrameSlave {
			return true
		}
	}
	return false
}

// Probe returns the ports on which an IMU is streaming at baud. skip lists ports
// that are known to be streaming and must not be reopened.
func Probe(open dmimu.PortOpener, baud int, skip ...string) ([]string, error) {
	ports, err := ListSerialPorts()
	if err != nil {
		return nil, err
	}

	var validPorts []string
	for _, portName := range ports {
		if contains(skip, portName) || testPort(open, portName, baud) {
			validPorts = append(validPorts, portName)
		}
	}

	if len(validPorts) == 0 {
		return nil, errors.New("no valid ports found")
	}
	return validPorts, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ProbeDev probes at the configured baud rate. The managed port is not reopened
// while the manager holds it.
func (m *dmimuManager) ProbeDev() ([]string, error) {
	var skip []string
	if m.Running() {
		skip = append(skip, m.opt.IMU.Name)
	}
	return Probe(m.openPort, m.opt.IMU.Baud, skip...)
}
