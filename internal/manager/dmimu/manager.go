package dmimu

import (
	"context"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"imu_apiserver/internal/config"
	"imu_apiserver/internal/manager"
	"imu_apiserver/internal/sensor"
	"imu_apiserver/internal/sensor/dmimu"
	"sync"
	"sync/atomic"
	"time"
)

// back-off after a read error that is not a timeout
const readErrorBackoff = 10 * time.Millisecond

type stats struct {
	frames         atomic.Uint64
	shortFrames    atomic.Uint64
	unsynchronized atomic.Uint64
	readErrors     atomic.Uint64
	crcErrors      [sensor.NumKinds]atomic.Uint64
	bytesRead      atomic.Uint64
}

type dmimuManager struct {
	opt       *config.IMUServerOpt
	openPort  dmimu.PortOpener
	sequencer *dmimu.Sequencer
	decoder   *dmimu.Decoder
	store     *sensor.Store

	port    dmimu.Port
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lock    sync.Mutex
	running atomic.Bool
	session atomic.Value

	manuallyStopped atomic.Bool
	faulted         atomic.Bool
	stats           stats

	// consecutive hard read errors, owned by the acquisition goroutine
	readErrRun int
}

var _ sensor.Sensor = &dmimuManager{}

// Option customizes a manager at construction
type Option func(m *dmimuManager)

// WithPortOpener replaces the serial port opener, mostly for tests
func WithPortOpener(open dmimu.PortOpener) Option {
	return func(m *dmimuManager) {
		m.openPort = open
	}
}

// NewManager opens the IMU port and runs the configuration sequence once. Any
// failure here is returned and leaves nothing open.
func NewManager(opt *config.IMUServerOpt, opts ...Option) (manager.Manager, error) {
	if opt == nil {
		return nil, errors.New("nil option")
	}
	if err := dmimu.CheckBaud(opt.IMU.Baud); err != nil {
		return nil, err
	}
	crc, err := dmimu.NewChecksum(opt.IMU.CRC)
	if err != nil {
		return nil, err
	}

	m := &dmimuManager{
		opt:       opt,
		openPort:  dmimu.Open,
		sequencer: dmimu.NewSequencer(opt.Acquisition),
		decoder:   dmimu.NewDecoder(crc),
		store:     sensor.NewStore(),
	}
	m.session.Store("")
	for _, o := range opts {
		o(m)
	}

	if err = m.openLocked(true); err != nil {
		return nil, err
	}
	return m, nil
}

// openLocked opens the port if needed and configures the device when asked to
func (m *dmimuManager) openLocked(configure bool) error {
	if m.port != nil {
		return nil
	}
	port, err := m.openPort(m.opt.IMU, m.opt.Acquisition.ReadTimeout)
	if err != nil {
		return err
	}
	if configure {
		log.Infof("configuring imu %s on %s", m.opt.IMU.ID, m.opt.IMU.Name)
		if err = m.sequencer.Configure(context.Background(), port); err != nil {
			_ = port.Close()
			return errors.Wrap(err, "configure imu")
		}
		if err = port.Flush(); err != nil {
			log.Debugf("flush after configure: %v", err)
		}
	}
	m.port = port
	return nil
}

// Start launches the acquisition goroutine. Calling it while running is a no-op;
// a faulted manager is stopped and its port reopened first.
func (m *dmimuManager) Start() error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.running.Load() {
		if !m.faulted.Load() {
			return nil
		}
		if err := m.stopLocked(); err != nil {
			log.Warnf("close faulted imu port: %v", err)
		}
	}
	if err := m.openLocked(m.opt.IMU.ReconfigureOnStart); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	session := uuid.NewString()
	m.session.Store(session)
	m.manuallyStopped.Store(false)
	m.faulted.Store(false)
	m.readErrRun = 0
	m.running.Store(true)
	acquisitionRunning.Set(1)

	m.wg.Add(1)
	go m.acquire(ctx, m.port)

	log.Infof("manager started, session %s", session)
	return nil
}

// Stop cancels the acquisition goroutine, waits for it and closes the port.
// It is safe to call on a stopped or never started manager.
func (m *dmimuManager) Stop() error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.manuallyStopped.Store(true)
	return m.stopLocked()
}

func (m *dmimuManager) stopLocked() error {
	if m.cancel != nil {
		m.cancel()
		m.wg.Wait()
		m.cancel = nil
		log.Infof("manager stopped, session %s: %s frames, %s read",
			m.session.Load(), humanize.Comma(int64(m.stats.frames.Load())), humanize.Bytes(m.stats.bytesRead.Load()))
	}
	m.running.Store(false)
	acquisitionRunning.Set(0)

	if m.port == nil {
		return nil
	}
	err := m.port.Close()
	m.port = nil
	if err != nil {
		return errors.Wrap(err, "close imu port")
	}
	return nil
}

// Restart stops then starts the manager
func (m *dmimuManager) Restart() error {
	err := m.Stop()
	if err != nil {
		return err
	}
	return m.Start()
}

// acquire owns port until ctx is cancelled. ctx is only checked between reads, so
// Stop waits at most one read timeout.
func (m *dmimuManager) acquire(ctx context.Context, port dmimu.Port) {
	defer m.wg.Done()

	buf := make([]byte, dmimu.FrameSize)
	errNum := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		errNum = m.step(port, buf, errNum)
		if m.faulted.Load() {
			acquisitionRunning.Set(0)
			return
		}
	}
}

// step does one read, decodes it and returns the updated consecutive error count.
// A read shorter than a frame is dropped whole.
func (m *dmimuManager) step(port dmimu.Port, buf []byte, errNum int) int {
	threshold := m.opt.Acquisition.ErrorLogThreshold

	n, err := dmimu.ReadFrame(port, buf)
	m.stats.bytesRead.Add(uint64(n))
	bytesReadTotal.Add(float64(n))
	if err != nil {
		m.stats.readErrors.Add(1)
		framesTotal.WithLabelValues(resultReadError).Inc()
		log.Debugf("imu %s read error: %v", m.opt.IMU.ID, err)
		m.readErrRun++
		if limit := m.opt.Acquisition.FaultThreshold; limit > 0 && m.readErrRun >= limit {
			log.Errorf("imu %s faulted after %d read errors: %v", m.opt.IMU.ID, m.readErrRun, err)
			m.faulted.Store(true)
			return m.countError(errNum, threshold)
		}
		time.Sleep(readErrorBackoff)
		return m.countError(errNum, threshold)
	}
	m.readErrRun = 0

	res, err := m.decoder.Decode(buf[:n])
	if err != nil {
		if errors.Is(err, dmimu.ErrShortFrame) {
			m.stats.shortFrames.Add(1)
			framesTotal.WithLabelValues(resultShort).Inc()
		} else {
			m.stats.unsynchronized.Add(1)
			framesTotal.WithLabelValues(resultUnsynchronized).Inc()
		}
		log.Debugf("imu %s: %v", m.opt.IMU.ID, err)
		return m.countError(errNum, threshold)
	}

	m.stats.frames.Add(1)
	framesTotal.WithLabelValues(resultOK).Inc()
	for kind, rejected := range res.Rejected {
		if rejected {
			m.stats.crcErrors[kind].Add(1)
			crcErrorsTotal.WithLabelValues(sensor.TripleKind(kind).String()).Inc()
		}
	}
	m.store.Apply(res.Update)
	return 0
}

// countError bumps the consecutive error counter and logs once it passes threshold
func (m *dmimuManager) countError(errNum int, threshold int) int {
	errNum++
	if threshold > 0 && errNum > threshold {
		log.Warnf("imu %s: failed to find a correct frame header (0x%02X) in %d reads", m.opt.IMU.ID, dmimu.FrameHeader, threshold)
		return 0
	}
	return errNum
}

// Latest returns a copy of the last decoded sample
func (m *dmimuManager) Latest() sensor.Sample {
	return m.store.Snapshot()
}

func (m *dmimuManager) Status() manager.Status {
	seq, updated := m.store.Seq()
	st := manager.Status{
		ID:         m.opt.IMU.ID,
		Device:     m.opt.IMU.Name,
		Baud:       m.opt.IMU.Baud,
		Running:    m.Running(),
		Faulted:    m.faulted.Load(),
		Session:    m.session.Load().(string),
		Seq:        seq,
		LastUpdate: updated,
		Stats: manager.Stats{
			Frames:         m.stats.frames.Load(),
			ShortFrames:    m.stats.shortFrames.Load(),
			Unsynchronized: m.stats.unsynchronized.Load(),
			ReadErrors:     m.stats.readErrors.Load(),
			BytesRead:      m.stats.bytesRead.Load(),
		},
	}
	for i := range m.stats.crcErrors {
		st.Stats.CRCErrors[i] = m.stats.crcErrors[i].Load()
	}
	return st
}

// Running reports whether the acquisition goroutine is alive and healthy
func (m *dmimuManager) Running() bool {
	return m.running.Load() && !m.faulted.Load()
}

// Faulted reports that acquisition gave up after repeated read errors. The port
// stays open until Stop or the next Start.
func (m *dmimuManager) Faulted() bool {
	return m.faulted.Load()
}

func (m *dmimuManager) ManuallyStopped() bool {
	return m.manuallyStopped.Load()
}

// ListDev returns the id of the managed sensor
func (m *dmimuManager) ListDev() ([]string, error) {
	return []string{m.opt.IMU.ID}, nil
}
