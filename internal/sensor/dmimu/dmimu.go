package dmimu

import (
	"github.com/pkg/errors"
	"imu_apiserver/internal/sensor"
	"math"
)

const (
	FrameHeader = 0x55 // subframe start marker
	FrameFlag   = 0xAA
	FrameSlave  = 0x01 // source id of the IMU
	FrameEnd    = 0x0A

	RegAcc   = 0x01
	RegGyro  = 0x02
	RegEuler = 0x03

	SubframeSize = 19
	FrameSize    = 3 * SubframeSize

	// offsets inside a subframe
	ofsReg     = 3
	ofsPayload = 4
	ofsCRC     = 16
	ofsEnd     = 18
)

var (
	ErrShortFrame      = errors.New("short frame")
	ErrUnsynchronized  = errors.New("frame header not found")
	ErrChecksumMissing = errors.New("decoder has no checksum")
)

// subframe order inside a frame
var subframeKinds = [sensor.NumKinds]sensor.TripleKind{sensor.KindAcc, sensor.KindGyro, sensor.KindEuler}

// Decoder validates and decodes 57-byte telemetry frames
type Decoder struct {
	crc *Checksum
}

func NewDecoder(crc *Checksum) *Decoder {
	return &Decoder{crc: crc}
}

// Result carries the decoded triples of one frame and the kinds rejected by CRC
type Result struct {
	sensor.Update
	Rejected [sensor.NumKinds]bool
}

// Decode checks the frame framing and the checksum of each subframe. A frame whose
// leading header does not match is rejected as a whole; a subframe whose checksum
// does not match only drops its own triple.
func (d *Decoder) Decode(frame []byte) (Result, error) {
	var res Result
	if d.crc == nil {
		return res, ErrChecksumMissing
	}
	if len(frame) != FrameSize {
		return res, errors.Wrapf(ErrShortFrame, "got %d of %d bytes", len(frame), FrameSize)
	}
	if !synced(frame) {
		return res, errors.Wrapf(ErrUnsynchronized, "leading bytes % X", frame[:ofsPayload])
	}

	for i, kind := range subframeKinds {
		sub := frame[i*SubframeSize : (i+1)*SubframeSize]
		if d.crc.Sum(sub[:ofsCRC]) != U2(sub[ofsCRC:]) {
			res.Rejected[kind] = true
			continue
		}
		res.Valid[kind] = true
		res.Values[kind] = sensor.Triple{
			R4(sub[ofsPayload:]),
			R4(sub[ofsPayload+4:]),
			R4(sub[ofsPayload+8:]),
		}
	}
	return res, nil
}

func synced(frame []byte) bool {
	return frame[0] == FrameHeader && frame[1] == FrameFlag &&
		frame[2] == FrameSlave && frame[ofsReg] == RegAcc
}

// EncodeSubframe builds a well-formed subframe for reg carrying t
func (d *Decoder) EncodeSubframe(dst []byte, reg byte, t sensor.Triple) {
	dst[0] = FrameHeader
	dst[1] = FrameFlag
	dst[2] = FrameSlave
	dst[ofsReg] = reg
	for i, v := range t {
		PutU4(dst[ofsPayload+4*i:], math.Float32bits(v))
	}
	PutU2(dst[ofsCRC:], d.crc.Sum(dst[:ofsCRC]))
	dst[ofsEnd] = FrameEnd
}

// EncodeFrame builds a full frame from a sample, the inverse of Decode
func (d *Decoder) EncodeFrame(s sensor.Sample) []byte {
	frame := make([]byte, FrameSize)
	regs := [sensor.NumKinds]byte{RegAcc, RegGyro, RegEuler}
	for i, kind := range subframeKinds {
		d.EncodeSubframe(frame[i*SubframeSize:(i+1)*SubframeSize], regs[i], s.Triple(kind))
	}
	return frame
}

func U2(p []uint8) uint16 {
	return (uint16(p[1]) << 8) + uint16(p[0])
}

func U4(p []uint8) uint32 {
	return (uint32(p[3]) << 24) + (uint32(p[2]) << 16) + (uint32(p[1]) << 8) + uint32(p[0])
}

// R4 reinterprets a little-endian word as an IEEE-754 single
func R4(p []uint8) float32 {
	return math.Float32frombits(U4(p))
}

func PutU2(p []uint8, v uint16) {
	p[0] = uint8(v)
	p[1] = uint8(v >> 8)
}

func PutU4(p []uint8, v uint32) {
	p[0] = uint8(v)
	p[1] = uint8(v >> 8)
	p[2] = uint8(v >> 16)
	p[3] = uint8(v >> 24)
}
