package main

import (
	"context"
	"fmt"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"imu_apiserver/internal/config"
	"imu_apiserver/internal/sensor/dmimu"
	"os"
	"time"
)

// dump prints every command of seq the way it goes on the wire
func dump(seq []dmimu.Command) {
	for _, c := range seq {
		fmt.Printf("host -> imu  %-20s % X\n", c.Name, c.Bytes())
	}
}

func configure(opt config.IMUOpt, acq config.AcquisitionOpt, restart bool) error {
	port, err := dmimu.Open(opt, acq.ReadTimeout)
	if err != nil {
		return err
	}
	defer func() { _ = port.Close() }()

	seq := dmimu.StreamingSequence
	if restart {
		seq = dmimu.RestartSequence
	}
	dump(seq)
	if err = dmimu.NewSequencer(acq).Run(context.Background(), port, seq); err != nil {
		return err
	}

	// show what the device streams right after configuration
	buf := make([]byte, dmimu.FrameSize)
	n, err := dmimu.ReadFrame(port, buf)
	if err != nil {
		return err
	}
	fmt.Printf("imu  -> host % X\n", buf[:n])
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "setup_dmimu",
	Short: "configure a DM IMU for 1000Hz acc/gyro/euler streaming",
	RunE: func(cmd *cobra.Command, args []string) error {
		opt := config.NewIMUOpt()
		acq := config.NewAcquisitionOpt()
		opt.Name, _ = cmd.Flags().GetString("port")
		opt.Baud, _ = cmd.Flags().GetInt("baud")
		acq.CommandRepeat, _ = cmd.Flags().GetInt("repeat")
		acq.CommandPause, _ = cmd.Flags().GetDuration("pause")
		restart, _ := cmd.Flags().GetBool("restart")

		if opt.Name == "" {
			return fmt.Errorf("--port must be specified")
		}
		if err := dmimu.CheckBaud(opt.Baud); err != nil {
			return err
		}
		return configure(opt, acq, restart)
	},
}

func main() {
	rootCmd.Flags().String("port", "", "The serial port to use")
	rootCmd.Flags().Int("baud", config.DefaultIMUBaud, "Baud rate")
	rootCmd.Flags().Int("repeat", config.DefaultCommandRepeat, "How many times each command is sent")
	rootCmd.Flags().Duration("pause", config.DefaultCommandPause, "Pause between writes")
	rootCmd.Flags().Bool("restart", false, "Send the restart command only")
	rootCmd.SilenceUsage = true

	start := time.Now()
	if err := rootCmd.Execute(); err != nil {
		log.Errorln(err)
		os.Exit(1)
	}
	log.Infof("done in %v", time.Since(start).Round(time.Millisecond))
}
