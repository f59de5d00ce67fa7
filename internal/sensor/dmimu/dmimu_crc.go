package dmimu

import (
	"github.com/pkg/errors"
	"github.com/sigurn/crc16"
	"strings"
)

// ErrUnknownCRC is returned for a CRC variant name that is not in crcVariants
var ErrUnknownCRC = errors.New("unknown crc16 variant")

// the device firmware computes CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF, no reflection);
// the other variants exist for validating captures against neighbouring firmware revisions
var crcVariants = map[string]crc16.Params{
	"ccitt-false": crc16.CRC16_CCITT_FALSE,
	"xmodem":      crc16.CRC16_XMODEM,
	"modbus":      crc16.CRC16_MODBUS,
	"arc":         crc16.CRC16_ARC,
}

// Checksum computes the 16-bit CRC over a subframe span
type Checksum struct {
	name  string
	table *crc16.Table
}

// NewChecksum builds the lookup table for the named variant. An empty name
// selects ccitt-false.
func NewChecksum(name string) (*Checksum, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = "ccitt-false"
	}
	params, ok := crcVariants[key]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCRC, "%q", name)
	}
	return &Checksum{name: key, table: crc16.MakeTable(params)}, nil
}

func (c *Checksum) Name() string {
	return c.name
}

func (c *Checksum) Sum(p []byte) uint16 {
	return crc16.Checksum(p, c.table)
}
