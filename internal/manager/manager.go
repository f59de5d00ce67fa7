package manager

import (
	"imu_apiserver/internal/sensor"
	"time"
)

// Stats counts what the acquisition loop has seen since the manager was created
type Stats struct {
	Frames         uint64                  `json:"frames"`
	ShortFrames    uint64                  `json:"short_frames"`
	Unsynchronized uint64                  `json:"unsynchronized"`
	ReadErrors     uint64                  `json:"read_errors"`
	CRCErrors      [sensor.NumKinds]uint64 `json:"crc_errors"`
	BytesRead      uint64                  `json:"bytes_read"`
}

type Status struct {
	ID         string    `json:"id"`
	Device     string    `json:"device"`
	Baud       int       `json:"baud"`
	Running    bool      `json:"running"`
	Faulted    bool      `json:"faulted"`
	Session    string    `json:"session"`
	Seq        uint64    `json:"seq"`
	LastUpdate time.Time `json:"last_update"`
	Stats      Stats     `json:"stats"`
}

type Manager interface {
	Start() error
	Stop() error
	Restart() error
	Latest() sensor.Sample
	Status() Status
	Running() bool
	Faulted() bool
	ManuallyStopped() bool
	ListDev() ([]string, error)
	ProbeDev() ([]string, error)
}
