package dmimu

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"imu_apiserver/internal/config"
	"imu_apiserver/internal/sensor"
	"imu_apiserver/internal/sensor/dmimu"
)

// fakePort serves queued chunks, then repeat if set, then timeouts
type fakePort struct {
	mu      sync.Mutex
	reads   [][]byte
	repeat  []byte
	readErr error
	written bytes.Buffer
	closed  bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.reads) > 0 {
		chunk := p.reads[0]
		p.reads = p.reads[1:]
		p.mu.Unlock()
		return copy(b, chunk), nil
	}
	repeat, readErr := p.repeat, p.readErr
	p.mu.Unlock()

	if readErr != nil {
		return 0, readErr
	}
	if repeat != nil {
		time.Sleep(50 * time.Microsecond)
		return copy(b, repeat), nil
	}
	time.Sleep(time.Millisecond)
	return 0, io.EOF
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) Flush() error { return nil }

func (p *fakePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written.Bytes()...)
}

func (p *fakePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePort) Queue(chunks ...[]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads = append(p.reads, chunks...)
}

func (p *fakePort) SetRepeat(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.repeat = frame
}

// fakeOpener hands out a new fakePort per open and remembers every one of them
type fakeOpener struct {
	mu    sync.Mutex
	ports []*fakePort
	err   error
	setup func(p *fakePort)
}

func (o *fakeOpener) Open(opt config.IMUOpt, readTimeout time.Duration) (dmimu.Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	p := &fakePort{}
	if o.setup != nil {
		o.setup(p)
	}
	o.ports = append(o.ports, p)
	return p, nil
}

func (o *fakeOpener) Opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ports)
}

func (o *fakeOpener) Port(i int) *fakePort {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ports[i]
}

func newTestOpt() *config.IMUServerOpt {
	opt := config.NewIMUServerOpt()
	opt.Acquisition.CommandPause = 0
	opt.Acquisition.SettlePause = 0
	opt.Acquisition.ReadTimeout = time.Millisecond
	return &opt
}

func newTestManager(t *testing.T, opt *config.IMUServerOpt, opener *fakeOpener) *dmimuManager {
	t.Helper()
	m, err := NewManager(opt, WithPortOpener(opener.Open))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop() })
	return m.(*dmimuManager)
}

func newEncoder(t *testing.T) *dmimu.Decoder {
	t.Helper()
	crc, err := dmimu.NewChecksum(config.DefaultIMUCRC)
	require.NoError(t, err)
	return dmimu.NewDecoder(crc)
}

func configBytes(seq []dmimu.Command, repeat int) []byte {
	var b []byte
	for _, c := range seq {
		for i := 0; i < repeat; i++ {
			b = append(b, c.Bytes()...)
		}
	}
	return b
}

func TestNewManager_ConfiguresOnce(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(t, newTestOpt(), opener)

	require.Equal(t, 1, opener.Opened())
	assert.Equal(t, configBytes(dmimu.StreamingSequence, 5), opener.Port(0).Written())
	assert.False(t, m.Running())
	assert.False(t, m.ManuallyStopped())
	assert.Equal(t, sensor.Sample{}, m.Latest())
}

func TestNewManager_UnsupportedBaud(t *testing.T) {
	opt := newTestOpt()
	opt.IMU.Baud = 9600
	opener := &fakeOpener{}

	_, err := NewManager(opt, WithPortOpener(opener.Open))
	assert.ErrorIs(t, err, dmimu.ErrUnsupportedBaudRate)
	assert.Equal(t, 0, opener.Opened())
}

func TestNewManager_OpenError(t *testing.T) {
	opener := &fakeOpener{err: dmimu.ErrOpen}
	_, err := NewManager(newTestOpt(), WithPortOpener(opener.Open))
	assert.ErrorIs(t, err, dmimu.ErrOpen)
}

func TestNewManager_UnknownCRC(t *testing.T) {
	opt := newTestOpt()
	opt.IMU.CRC = "crc-9000"
	_, err := NewManager(opt, WithPortOpener((&fakeOpener{}).Open))
	assert.ErrorIs(t, err, dmimu.ErrUnknownCRC)
}

func TestNewManager_NilOption(t *testing.T) {
	_, err := NewManager(nil)
	assert.Error(t, err)
}

func TestStep_AccelOnly(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(t, newTestOpt(), opener)
	enc := newEncoder(t)

	port := opener.Port(0)
	port.Queue(enc.EncodeFrame(sensor.Sample{Acc: sensor.Triple{1.0, 2.0, 3.0}}))

	errNum := m.step(port, make([]byte, dmimu.FrameSize), 4)
	assert.Equal(t, 0, errNum)
	assert.Equal(t, sensor.Sample{Acc: sensor.Triple{1.0, 2.0, 3.0}}, m.Latest())

	st := m.Status()
	assert.Equal(t, uint64(1), st.Stats.Frames)
	assert.Equal(t, uint64(dmimu.FrameSize), st.Stats.BytesRead)
	assert.Equal(t, uint64(1), st.Seq)
}

func TestStep_CorruptAccelKeepsPrevious(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(t, newTestOpt(), opener)
	enc := newEncoder(t)
	port := opener.Port(0)
	buf := make([]byte, dmimu.FrameSize)

	port.Queue(enc.EncodeFrame(sensor.Sample{Acc: sensor.Triple{1.0, 2.0, 3.0}}))
	require.Equal(t, 0, m.step(port, buf, 0))

	next := enc.EncodeFrame(sensor.Sample{
		Acc:   sensor.Triple{4.0, 5.0, 6.0},
		Gyro:  sensor.Triple{0.1, 0.2, 0.3},
		Euler: sensor.Triple{10, 20, 30},
	})
	next[16] ^= 0x01
	port.Queue(next)
	assert.Equal(t, 0, m.step(port, buf, 0))

	got := m.Latest()
	assert.Equal(t, sensor.Triple{1.0, 2.0, 3.0}, got.Acc)
	assert.Equal(t, sensor.Triple{0.1, 0.2, 0.3}, got.Gyro)
	assert.Equal(t, sensor.Triple{10, 20, 30}, got.Euler)

	st := m.Status()
	assert.Equal(t, uint64(2), st.Stats.Frames)
	assert.Equal(t, uint64(1), st.Stats.CRCErrors[sensor.KindAcc])
	assert.Zero(t, st.Stats.CRCErrors[sensor.KindGyro])
}

func TestStep_ShortReadCountedOnce(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(t, newTestOpt(), opener)
	enc := newEncoder(t)
	port := opener.Port(0)

	frame := enc.EncodeFrame(sensor.Sample{Acc: sensor.Triple{1, 2, 3}})
	port.Queue(frame[:30])

	errNum := m.step(port, make([]byte, dmimu.FrameSize), 0)
	assert.Equal(t, 1, errNum)

	st := m.Status()
	assert.Equal(t, uint64(1), st.Stats.ShortFrames)
	assert.Zero(t, st.Stats.Frames)
	assert.Zero(t, st.Seq)
	assert.Equal(t, uint64(30), st.Stats.BytesRead)
	assert.Equal(t, sensor.Sample{}, m.Latest())
}

func TestStep_Unsynchronized(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(t, newTestOpt(), opener)
	enc := newEncoder(t)
	port := opener.Port(0)

	frame := enc.EncodeFrame(sensor.Sample{Acc: sensor.Triple{1, 2, 3}})
	frame[0] = 0x00
	port.Queue(frame)

	assert.Equal(t, 3, m.step(port, make([]byte, dmimu.FrameSize), 2))
	assert.Equal(t, uint64(1), m.Status().Stats.Unsynchronized)
	assert.Equal(t, sensor.Sample{}, m.Latest())
}

func TestStep_ReadError(t *testing.T) {
	opener := &fakeOpener{setup: func(p *fakePort) { p.readErr = io.ErrUnexpectedEOF }}
	m := newTestManager(t, newTestOpt(), opener)

	assert.Equal(t, 1, m.step(opener.Port(0), make([]byte, dmimu.FrameSize), 0))
	assert.Equal(t, uint64(1), m.Status().Stats.ReadErrors)
}

func TestCountError_Threshold(t *testing.T) {
	opt := newTestOpt()
	opt.Acquisition.ErrorLogThreshold = 3
	m := newTestManager(t, opt, &fakeOpener{})

	assert.Equal(t, 2, m.countError(1, 3))
	assert.Equal(t, 3, m.countError(2, 3))
	assert.Equal(t, 0, m.countError(3, 3))
	assert.Equal(t, 100, m.countError(99, 0))
}

func TestStartStop(t *testing.T) {
	enc := newEncoder(t)
	want := sensor.Sample{
		Acc:   sensor.Triple{1, 2, 3},
		Gyro:  sensor.Triple{4, 5, 6},
		Euler: sensor.Triple{7, 8, 9},
	}
	frame := enc.EncodeFrame(want)
	opener := &fakeOpener{setup: func(p *fakePort) { p.SetRepeat(frame) }}
	m := newTestManager(t, newTestOpt(), opener)

	require.NoError(t, m.Start())
	require.NoError(t, m.Start())
	assert.True(t, m.Running())
	assert.Equal(t, 1, opener.Opened())
	assert.NotEmpty(t, m.Status().Session)

	assert.Eventually(t, func() bool { return m.Latest() == want }, time.Second, time.Millisecond)

	require.NoError(t, m.Stop())
	assert.False(t, m.Running())
	assert.True(t, m.ManuallyStopped())
	assert.True(t, opener.Port(0).Closed())

	// the last sample survives a stop
	assert.Equal(t, want, m.Latest())
	require.NoError(t, m.Stop())
}

func TestStop_NeverStarted(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(t, newTestOpt(), opener)

	require.NoError(t, m.Stop())
	assert.True(t, opener.Port(0).Closed())
	assert.False(t, m.Running())
	require.NoError(t, m.Stop())
}

func TestStartAfterStop_Reopens(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(t, newTestOpt(), opener)

	require.NoError(t, m.Start())
	require.NoError(t, m.Stop())
	require.NoError(t, m.Start())

	require.Equal(t, 2, opener.Opened())
	assert.Empty(t, opener.Port(1).Written())
	assert.True(t, m.Running())
	assert.False(t, m.ManuallyStopped())
}

func TestStartAfterStop_Reconfigures(t *testing.T) {
	opt := newTestOpt()
	opt.IMU.ReconfigureOnStart = true
	opener := &fakeOpener{}
	m := newTestManager(t, opt, opener)

	require.NoError(t, m.Restart())

	require.Equal(t, 2, opener.Opened())
	assert.Equal(t, configBytes(dmimu.StreamingSequence, 5), opener.Port(1).Written())
	assert.True(t, m.Running())
}

func TestSessionChangesOnRestart(t *testing.T) {
	m := newTestManager(t, newTestOpt(), &fakeOpener{})

	require.NoError(t, m.Start())
	first := m.Status().Session
	require.NoError(t, m.Restart())
	assert.NotEqual(t, first, m.Status().Session)
}

func TestListDev(t *testing.T) {
	m := newTestManager(t, newTestOpt(), &fakeOpener{})
	devs, err := m.ListDev()
	require.NoError(t, err)
	assert.Equal(t, []string{config.DefaultIMUID}, devs)
}

func TestDaemon_StartsManager(t *testing.T) {
	m := newTestManager(t, newTestOpt(), &fakeOpener{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Daemon(ctx, m)
		close(done)
	}()

	assert.Eventually(t, m.Running, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * daemonInterval):
		t.Fatal("daemon did not return")
	}
}

func TestDaemon_RespectsManualStop(t *testing.T) {
	m := newTestManager(t, newTestOpt(), &fakeOpener{})
	require.NoError(t, m.Stop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	Daemon(ctx, m)
	assert.False(t, m.Running())
}

func TestTestPort(t *testing.T) {
	enc := newEncoder(t)
	frame := enc.EncodeFrame(sensor.Sample{})

	streaming := &fakeOpener{setup: func(p *fakePort) { p.Queue(frame[7:], frame) }}
	assert.True(t, testPort(streaming.Open, "/dev/ttyFAKE0", config.DefaultIMUBaud))
	assert.True(t, streaming.Port(0).Closed())

	silent := &fakeOpener{setup: func(p *fakePort) { p.Queue([]byte{0x00, 0x55, 0x00}) }}
	assert.False(t, testPort(silent.Open, "/dev/ttyFAKE1", config.DefaultIMUBaud))

	broken := &fakeOpener{err: dmimu.ErrOpen}
	assert.False(t, testPort(broken.Open, "/dev/ttyFAKE2", config.DefaultIMUBaud))
}

func TestContains(t *testing.T) {
	assert.True(t, contains([]string{"a", "b"}, "b"))
	assert.False(t, contains(nil, "a"))
}

func TestStep_RealignsAfterMidFramePacket(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestManager(t, newTestOpt(), opener)
	enc := newEncoder(t)
	port := opener.Port(0)
	want := sensor.Sample{Acc: sensor.Triple{1, 2, 3}, Gyro: sensor.Triple{4, 5, 6}, Euler: sensor.Triple{7, 8, 9}}
	frame := enc.EncodeFrame(want)

	// the device sends one frame per packet; the first packet is picked up mid-frame
	port.Queue(frame[20:])
	for i := 0; i < 10; i++ {
		port.Queue(frame)
	}

	buf := make([]byte, dmimu.FrameSize)
	assert.Equal(t, 1, m.step(port, buf, 0))
	for i := 0; i < 10; i++ {
		assert.Equal(t, 0, m.step(port, buf, 1))
	}

	st := m.Status()
	assert.Equal(t, uint64(1), st.Stats.ShortFrames)
	assert.Equal(t, uint64(10), st.Stats.Frames)
	assert.Zero(t, st.Stats.Unsynchronized)
	assert.Equal(t, want, m.Latest())
}

func TestStep_FaultsAfterRepeatedReadErrors(t *testing.T) {
	opt := newTestOpt()
	opt.Acquisition.FaultThreshold = 3
	opener := &fakeOpener{setup: func(p *fakePort) { p.readErr = os.ErrClosed }}
	m := newTestManager(t, opt, opener)
	port := opener.Port(0)
	buf := make([]byte, dmimu.FrameSize)

	m.step(port, buf, 0)
	m.step(port, buf, 0)
	assert.False(t, m.Faulted())
	m.step(port, buf, 0)
	assert.True(t, m.Faulted())
	assert.True(t, m.Status().Faulted)
	assert.Equal(t, uint64(3), m.Status().Stats.ReadErrors)
}

func TestStep_TimeoutResetsReadErrorRun(t *testing.T) {
	opt := newTestOpt()
	opt.Acquisition.FaultThreshold = 2
	opener := &fakeOpener{setup: func(p *fakePort) { p.readErr = os.ErrClosed }}
	m := newTestManager(t, opt, opener)
	buf := make([]byte, dmimu.FrameSize)

	m.step(opener.Port(0), buf, 0)
	m.step(&fakePort{}, buf, 0)
	m.step(opener.Port(0), buf, 0)
	assert.False(t, m.Faulted())
}

// failingFirstOpener hands out a port that always fails to read on the first open only
func failingFirstOpener() *fakeOpener {
	first := true
	return &fakeOpener{setup: func(p *fakePort) {
		if first {
			p.readErr = os.ErrClosed
			first = false
		}
	}}
}

func TestStart_RecoversFromFault(t *testing.T) {
	opt := newTestOpt()
	opt.Acquisition.FaultThreshold = 3
	opener := failingFirstOpener()
	m := newTestManager(t, opt, opener)

	require.NoError(t, m.Start())
	assert.Eventually(t, m.Faulted, time.Second, time.Millisecond)
	assert.False(t, m.Running())

	require.NoError(t, m.Start())
	assert.Equal(t, 2, opener.Opened())
	assert.True(t, opener.Port(0).Closed())
	assert.False(t, m.Faulted())
	assert.True(t, m.Running())
}

func TestDaemon_RestartsFaultedManager(t *testing.T) {
	opt := newTestOpt()
	opt.Acquisition.FaultThreshold = 3
	opener := failingFirstOpener()
	m := newTestManager(t, opt, opener)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Daemon(ctx, m)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	assert.Eventually(t, func() bool {
		return opener.Opened() == 2 && m.Running()
	}, 3*daemonInterval, 5*time.Millisecond)
	assert.True(t, opener.Port(0).Closed())
	assert.False(t, m.Faulted())
}

func TestHasFrameHeader(t *testing.T) {
	assert.True(t, hasFrameHeader([]byte{0x00, 0x00, 0x55, 0xAA, 0x01}))
	assert.True(t, hasFrameHeader([]byte{0x55, 0xAA, 0x01}))
	assert.False(t, hasFrameHeader([]byte{0x00, 0x55, 0xAA}))
	assert.False(t, hasFrameHeader(nil))
}
