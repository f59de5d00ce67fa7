package grpc

import (
	"context"
	"errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"imu_apiserver/internal/manager"
	"time"
)

const (
	DefaultSubscribeInterval = 10 * time.Millisecond
	MinSubscribeInterval     = time.Millisecond
)

type server struct {
	manager manager.Manager
}

func (s *server) statusResponse(err error) (*structpb.Struct, error) {
	errString := ""
	if err != nil {
		errString = err.Error()
	}
	return structpb.NewStruct(map[string]interface{}{
		"status": s.manager.Running(),
		"err":    errString,
	})
}

// Start starts acquisition
func (s *server) Start(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	err := s.manager.Start()
	log.Infof("Start: %v", s.manager.Running())
	return s.statusResponse(err)
}

// Stop stops acquisition and releases the serial port
func (s *server) Stop(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	err := s.manager.Stop()
	log.Infof("Stop: %v", err)
	return s.statusResponse(err)
}

// GetLatestSample returns the current sample snapshot
func (s *server) GetLatestSample(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return SampleToStruct(s.manager.Latest())
}

func (s *server) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st := s.manager.Status()
	crcErrors := make([]interface{}, len(st.Stats.CRCErrors))
	for i, n := range st.Stats.CRCErrors {
		crcErrors[i] = float64(n)
	}
	lastUpdate := ""
	if !st.LastUpdate.IsZero() {
		lastUpdate = st.LastUpdate.Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(map[string]interface{}{
		"id":             st.ID,
		"device":         st.Device,
		"baud":           st.Baud,
		"running":        st.Running,
		"faulted":        st.Faulted,
		"last_update":    lastUpdate,
		"session":        st.Session,
		"seq":            float64(st.Seq),
		"frames":         float64(st.Stats.Frames),
		"short_frames":   float64(st.Stats.ShortFrames),
		"unsynchronized": float64(st.Stats.Unsynchronized),
		"read_errors":    float64(st.Stats.ReadErrors),
		"bytes_read":     float64(st.Stats.BytesRead),
		"crc_errors":     crcErrors,
	})
}

// Subscribe streams the latest sample every interval while the manager runs
func (s *server) Subscribe(req *durationpb.Duration, srv IMUServiceSubscribeServer) error {
	interval := DefaultSubscribeInterval
	if req != nil && req.AsDuration() > 0 {
		interval = req.AsDuration()
	}
	if interval < MinSubscribeInterval {
		interval = MinSubscribeInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if !s.manager.Running() {
			return errors.New("imu is not running")
		}
		resp, err := SampleToStruct(s.manager.Latest())
		if err != nil {
			return err
		}
		if err = srv.Send(resp); err != nil {
			return err
		}
		select {
		case <-srv.Context().Done():
			return srv.Context().Err()
		case <-ticker.C:
		}
	}
}

var _ IMUServiceServer = &server{}

func NewGRPCServer(manager manager.Manager) IMUServiceServer {
	return &server{
		manager: manager,
	}
}
