package dmimu

import (
	"context"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"imu_apiserver/internal/config"
	"io"
	"time"
)

const (
	CmdHeader = 0xAA
	CmdEnd    = 0x0D
)

// Command is one configuration instruction understood by the device in setting mode
type Command struct {
	Name   string
	Opcode []byte
}

// Bytes frames the opcode with the command header and terminator
func (c Command) Bytes() []byte {
	b := make([]byte, 0, len(c.Opcode)+2)
	b = append(b, CmdHeader)
	b = append(b, c.Opcode...)
	return append(b, CmdEnd)
}

var (
	CmdEnterSettingMode = Command{"enter-setting-mode", []byte{0x06, 0x01}}
	CmdEnableAccel      = Command{"enable-accel", []byte{0x01, 0x14}}
	CmdEnableGyro       = Command{"enable-gyro", []byte{0x01, 0x15}}
	CmdEnableEuler      = Command{"enable-euler", []byte{0x01, 0x16}}
	CmdDisableQuat      = Command{"disable-quat", []byte{0x01, 0x07}}
	CmdSetRate1000Hz    = Command{"set-rate-1000hz", []byte{0x02, 0x01, 0x00}}
	CmdSaveParameters   = Command{"save-parameters", []byte{0x03, 0x01}}
	CmdExitSettingMode  = Command{"exit-setting-mode", []byte{0x06, 0x00}}
	CmdRestart          = Command{"restart", []byte{0x00, 0x00}}
)

// StreamingSequence brings a freshly opened device into streaming mode
var StreamingSequence = []Command{
	CmdEnterSettingMode,
	CmdEnableAccel,
	CmdEnableGyro,
	CmdEnableEuler,
	CmdDisableQuat,
	CmdSetRate1000Hz,
	CmdSaveParameters,
	CmdExitSettingMode,
}

// RestartSequence reboots the device
var RestartSequence = []Command{CmdRestart}

// Sequencer writes configuration commands without waiting for any acknowledgment.
// Each command is repeated to survive line noise.
type Sequencer struct {
	Repeat int
	Pause  time.Duration
	Settle time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewSequencer(opt config.AcquisitionOpt) *Sequencer {
	repeat := opt.CommandRepeat
	if repeat <= 0 {
		repeat = 1
	}
	return &Sequencer{
		Repeat: repeat,
		Pause:  opt.CommandPause,
		Settle: opt.SettlePause,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run writes every command of seq to w with an extra Pause between commands,
// then waits Settle
func (s *Sequencer) Run(ctx context.Context, w io.Writer, seq []Command) error {
	sleep := s.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	for step, cmd := range seq {
		buf := cmd.Bytes()
		log.Debugf("imu command %s: % X x%d", cmd.Name, buf, s.Repeat)
		for i := 0; i < s.Repeat; i++ {
			if err := WriteAll(w, buf); err != nil {
				return errors.Wrapf(err, "write %s", cmd.Name)
			}
			if err := sleep(ctx, s.Pause); err != nil {
				return err
			}
		}
		if step == len(seq)-1 {
			break
		}
		if err := sleep(ctx, s.Pause); err != nil {
			return err
		}
	}
	return sleep(ctx, s.Settle)
}

// Configure runs StreamingSequence
func (s *Sequencer) Configure(ctx context.Context, w io.Writer) error {
	return s.Run(ctx, w, StreamingSequence)
}

// Restart runs RestartSequence
func (s *Sequencer) Restart(ctx context.Context, w io.Writer) error {
	return s.Run(ctx, w, RestartSequence)
}
