package dmimu

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	framesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imu",
		Name:      "frames_total",
		Help:      "Telemetry frames read from the IMU, by decode result.",
	}, []string{"result"})

	crcErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imu",
		Name:      "subframe_crc_errors_total",
		Help:      "Subframes rejected because their checksum did not match.",
	}, []string{"triple"})

	bytesReadTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "imu",
		Name:      "serial_bytes_read_total",
		Help:      "Bytes read from the IMU serial port.",
	})

	acquisitionRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "imu",
		Name:      "acquisition_running",
		Help:      "1 while the acquisition loop is running.",
	})
)

const (
	resultOK             = "ok"
	resultShort          = "short"
	resultUnsynchronized = "unsynchronized"
	resultReadError      = "read_error"
)

func init() {
	prometheus.MustRegister(framesTotal, crcErrorsTotal, bytesReadTotal, acquisitionRunning)
}
