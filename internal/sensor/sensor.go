package sensor

import "fmt"

// Triple is one group of three related measurements
type Triple [3]float32

// TripleKind identifies which triple of a Sample a value belongs to
type TripleKind int

const (
	KindAcc TripleKind = iota
	KindGyro
	KindEuler
	NumKinds
)

func (k TripleKind) String() string {
	switch k {
	case KindAcc:
		return "acc"
	case KindGyro:
		return "gyro"
	case KindEuler:
		return "euler"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sample is the latest decoded state of the IMU. Each triple is updated on its own
// and may lag the others when its subframe fails validation.
type Sample struct {
	Acc   Triple `json:"acc"`
	Gyro  Triple `json:"gyro"`
	Euler Triple `json:"euler"` // roll, pitch, yaw
}

// Triple returns the triple selected by kind
func (s *Sample) Triple(kind TripleKind) Triple {
	switch kind {
	case KindAcc:
		return s.Acc
	case KindGyro:
		return s.Gyro
	case KindEuler:
		return s.Euler
	default:
		return Triple{}
	}
}

// SetTriple replaces the triple selected by kind as a whole
func (s *Sample) SetTriple(kind TripleKind, t Triple) {
	switch kind {
	case KindAcc:
		s.Acc = t
	case KindGyro:
		s.Gyro = t
	case KindEuler:
		s.Euler = t
	}
}

// FieldNames lists the flat field names in the order returned by Fields
var FieldNames = [9]string{"accx", "accy", "accz", "gyrox", "gyroy", "gyroz", "roll", "pitch", "yaw"}

// Fields flattens the sample into the order of FieldNames
func (s *Sample) Fields() [9]float32 {
	return [9]float32{
		s.Acc[0], s.Acc[1], s.Acc[2],
		s.Gyro[0], s.Gyro[1], s.Gyro[2],
		s.Euler[0], s.Euler[1], s.Euler[2],
	}
}

// Update is the outcome of decoding one frame: which triples were accepted and their values
type Update struct {
	Valid  [NumKinds]bool
	Values [NumKinds]Triple
}

// Accepted counts the triples carried by the update
func (u *Update) Accepted() int {
	n := 0
	for _, v := range u.Valid {
		if v {
			n++
		}
	}
	return n
}

// Sensor is the driver-facing API of a single IMU
type Sensor interface {
	Start() error
	Stop() error
	Latest() Sample
}
