package server

import (
	"context"
	"errors"
	"fmt"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"imu_apiserver/internal/config"
	grpc2 "imu_apiserver/internal/controller/grpc"
	http2 "imu_apiserver/internal/controller/http"
	"imu_apiserver/internal/manager"
	managerImpl "imu_apiserver/internal/manager/dmimu"
	"imu_apiserver/internal/recorder"
	"imu_apiserver/internal/sensor/dmimu"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
)

type mainApp struct {
	name string
	cmd  *cobra.Command
	args []string
	opt  *config.IMUServerOpt
	desc *config.IMUServerDesc
}

// ProbeSensor prints the ports with a streaming IMU. With save set, the first one
// found becomes imu.name in the configuration file in use.
func (a *mainApp) ProbeSensor(save bool) error {
	log.Infof("Probing IMU devices at %d baud...", a.opt.IMU.Baud)
	res, err := managerImpl.Probe(dmimu.Open, a.opt.IMU.Baud)
	if err != nil {
		log.Errorln(err)
		return err
	}
	log.Infof("Found %d Valid IMU devices: \n", len(res))
	for _, v := range res {
		fmt.Printf("- %s\n", strings.TrimSpace(v))
	}
	if save {
		return a.saveDevice(res)
	}
	return nil
}

func (a *mainApp) saveDevice(ports []string) error {
	if len(ports) == 0 {
		return errors.New("no device to save")
	}
	if a.desc == nil {
		return errors.New("configuration not parsed")
	}
	a.desc.Opt.IMU.Name = strings.TrimSpace(ports[0])
	if err := a.desc.SaveConfig(); err != nil {
		return err
	}
	log.Infof("saved imu.name %s to %s", a.desc.Opt.IMU.Name, a.desc.Viper.ConfigFileUsed())
	return nil
}

func (a *mainApp) GetOpt() *config.IMUServerOpt {
	return a.opt
}

func (a *mainApp) SetOpt(opt *config.IMUServerOpt) { a.opt = opt }

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (a *mainApp) Run() error {
	log.Infoln("grpc.port:", a.opt.GRPC.Port)
	log.Infoln("grpc.interface:", a.opt.GRPC.Interface)
	log.Infoln("api.port:", a.opt.API.Port)
	log.Infoln("api.interface:", a.opt.API.Interface)
	log.Infoln("debug:", a.opt.Debug)
	log.Infoln("imu.device:", a.opt.IMU.Name, a.opt.IMU.Baud)

	m, err := managerImpl.NewManager(a.opt)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	go managerImpl.Daemon(ctx, m)

	// install and start api server
	apiServer := &http.Server{
		Addr:    net.JoinHostPort(a.opt.API.Interface, strconv.Itoa(a.opt.API.Port)),
		Handler: http2.NewRouter(m, a.opt.Debug),
	}
	go func() {
		log.Info("start api listen on ", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorln("api server failed:", err)
			cancel()
		}
	}()

	// install and start grpc server
	s := grpc.NewServer()
	grpc2.RegisterIMUServiceServer(s, grpc2.NewGRPCServer(m))
	grpcAddr := net.JoinHostPort(a.opt.GRPC.Interface, strconv.Itoa(a.opt.GRPC.Port))
	listener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		_ = m.Stop()
		return fmt.Errorf("net listen err: %w", err)
	}
	go func() {
		log.Info("start gRPC listen on ", grpcAddr)
		if err := s.Serve(listener); err != nil {
			log.Errorln("failed to serve...", err)
			cancel()
		}
	}()

	// wait for exit
	<-ctx.Done()
	log.Infoln("shutting down")
	s.GracefulStop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = apiServer.Shutdown(shutdownCtx)
	return m.Stop()
}

// Record starts the IMU, records samples as described by opt and stops it
func (a *mainApp) Record(opt recorder.Options) error {
	m, err := managerImpl.NewManager(a.opt)
	if err != nil {
		return err
	}
	return a.record(m, opt)
}

func (a *mainApp) record(m manager.Manager, opt recorder.Options) error {
	if err := m.Start(); err != nil {
		_ = m.Stop()
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	recErr := recorder.Record(ctx, m, opt)
	if err := m.Stop(); err != nil {
		log.Errorln(err)
	}
	return recErr
}

// Setup opens the port and sends the streaming configuration, or the restart command
func (a *mainApp) Setup(restart bool) error {
	port, err := dmimu.Open(a.opt.IMU, a.opt.Acquisition.ReadTimeout)
	if err != nil {
		return err
	}
	defer func() { _ = port.Close() }()

	seq := dmimu.NewSequencer(a.opt.Acquisition)
	ctx, cancel := signalContext()
	defer cancel()
	if restart {
		log.Infof("restarting imu on %s", a.opt.IMU.Name)
		return seq.Restart(ctx, port)
	}
	log.Infof("configuring imu on %s", a.opt.IMU.Name)
	return seq.Configure(ctx, port)
}

func (a *mainApp) PrepareRun() (MainApp, error) {
	desc := config.NewIMUServerDesc()
	err := desc.Parse(a.cmd)
	if err != nil {
		return nil, err
	}
	desc.PostParse()
	a.desc = &desc
	a.opt = &desc.Opt
	a.name = config.DefaultAppName
	return a, nil
}

type MainApp interface {
	Run() error
	PrepareRun() (MainApp, error)
	GetOpt() *config.IMUServerOpt
	SetOpt(*config.IMUServerOpt)
	ProbeSensor(save bool) error
	Record(opt recorder.Options) error
	Setup(restart bool) error
}

func NewMainApp(cmd *cobra.Command, args []string) MainApp {
	return &mainApp{
		cmd:  cmd,
		args: args,
	}
}
