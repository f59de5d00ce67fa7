package cmd

import (
	"github.com/spf13/cobra"
	"imu_apiserver/internal/config"
	"imu_apiserver/internal/recorder"
	"imu_apiserver/internal/server"
)

var RootCmd = &cobra.Command{
	Use:   "imu_apiserver",
	Short: "acquisition service for DM serial IMUs",
	Long:  "acquisition service for DM serial IMUs",
}

func prepare(cmd *cobra.Command, args []string) (server.MainApp, error) {
	return server.NewMainApp(cmd, args).PrepareRun()
}

// DeviceFlags adds the flags that select the serial device
func DeviceFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "default configuration path")
	cmd.Flags().StringP("device", "d", config.DefaultIMUName, "serial device of the IMU")
	cmd.Flags().IntP("baud", "b", config.DefaultIMUBaud, "baud rate (115200, 230400, 460800 or 921600)")
	cmd.Flags().Bool("debug", false, "toggle debug logging")
}

func ServeCmdRunE(cmd *cobra.Command, args []string) error {
	app, err := prepare(cmd, args)
	if err != nil {
		return err
	}
	return app.Run()
}

func ServeCmdFlags(cmd *cobra.Command) {
	DeviceFlags(cmd)
	cmd.Flags().Int64P("port", "p", config.DefaultAPIPort, "port that api server listen on")
	cmd.Flags().StringP("interface", "i", config.DefaultAPIInterface, "interface that api server listen on, default to 0.0.0.0")
}

var ServeCmd = &cobra.Command{
	Use: "serve",
	SuggestFor: []string{
		"ru", "ser",
	},
	Short: "serve start the IMU server using predefined configs.",
	Long: `serve start the IMU server using predefined configs, by the following order:
1. path specified in --config flag
2. path defined IMU_APISERVER_CONFIG environment variable
3. default location $HOME/.config/imu_apiserver/config.yaml, /etc/imu_apiserver/config.yaml, current directory
The parameters in the configuration file will be overwritten by the following order:
1. command line arguments
2. environment variables
`,
	Example: `  imu_apiserver serve --config=/path/to/config`,
	RunE:    ServeCmdRunE,
}

func InitCmdFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "default configuration path")
	cmd.Flags().Bool("print", false, "print config to stdout")
	cmd.Flags().BoolP("yes", "y", false, "overwrite")
	cmd.Flags().StringP("output", "o", config.DefaultConfig, "specify output directory")
}

var InitCmd = &cobra.Command{
	Use: "init",
	SuggestFor: []string{
		"ini", "in",
	},
	Short: "init create a configuration template",
	Long: `init create a configuration template.
The configuration file can be used to launch the IMU server.
If --print flag is present, the configuration will be printed to stdout.
If --output / -o flag is present, the configuration will be saved to the path specified
Otherwise init will output configuration file to $HOME/.config/imu_apiserver/config.yaml
If --yes / -y flag is present, the configuration will be overwrite without confirmation
`,
	Example: `  imu_apiserver init --print
  imu_apiserver init --output /path/to/config.yaml
  imu_apiserver init -o /path/to/config.yaml -y`,
	RunE: config.InitCfg,
}

func ProbeCmdFlags(cmd *cobra.Command) {
	DeviceFlags(cmd)
	cmd.Flags().Bool("save", false, "write the first device found to the configuration file")
}

var ProbeCmd = &cobra.Command{
	Use: "probe",
	SuggestFor: []string{
		"pro", "pr", "prob",
	},
	Short: "probe the compatible devices",
	Long: `probe the compatible devices.
The probe command will scan the serial ports for streaming IMUs and print the result to stdout.
Only IMUs streaming at the configured baud rate can be detected.
With --save, the first device found is written to the configuration file in use.
`,
	Example: `  imu_apiserver probe --baud 921600
  imu_apiserver probe --config /path/to/config.yaml --save`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := prepare(cmd, args)
		if err != nil {
			return err
		}
		save, _ := cmd.Flags().GetBool("save")
		return app.ProbeSensor(save)
	},
}

func RecordCmdFlags(cmd *cobra.Command) {
	DeviceFlags(cmd)
	cmd.Flags().IntP("count", "n", recorder.DefaultCount, "number of samples to record")
	cmd.Flags().Duration("interval", recorder.DefaultInterval, "interval between samples")
	cmd.Flags().StringP("output", "o", recorder.DefaultOutput, "csv output path")
	cmd.Flags().String("plot", "", "render png plots with this path prefix")
	cmd.Flags().String("exec", "", "shell command run after recording, "+recorder.CSVPlaceholder+" is replaced by the csv path")
}

func RecordCmdRunE(cmd *cobra.Command, args []string) error {
	app, err := prepare(cmd, args)
	if err != nil {
		return err
	}
	opt := recorder.Options{}
	opt.Count, _ = cmd.Flags().GetInt("count")
	opt.Interval, _ = cmd.Flags().GetDuration("interval")
	opt.Output, _ = cmd.Flags().GetString("output")
	opt.Plot, _ = cmd.Flags().GetString("plot")
	opt.Exec, _ = cmd.Flags().GetString("exec")
	return app.Record(opt)
}

var RecordCmd = &cobra.Command{
	Use:   "record",
	Short: "record samples to a csv file",
	Long: `record starts the IMU, polls the latest sample at a fixed interval and writes the
samples to a csv file (index,roll,pitch,yaw,accx,accy,accz,gyrox,gyroy,gyroz).
Optionally plots are rendered and an external command is run on the csv file.
`,
	Example: `  imu_apiserver record -d /dev/ttyACM0 -n 1000 --plot imu
  imu_apiserver record --exec "python3 plot_imu.py {csv}"`,
	RunE: RecordCmdRunE,
}

func SetupCmdFlags(cmd *cobra.Command) {
	DeviceFlags(cmd)
	cmd.Flags().Bool("restart", false, "send the restart command instead of the streaming configuration")
}

var SetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "send the configuration sequence to the IMU",
	Long: `setup enters setting mode, enables acceleration, angular velocity and euler output,
disables quaternion output, sets the output rate to 1000Hz, saves the parameters and exits setting mode.
With --restart only the restart command is sent.
`,
	Example: `  imu_apiserver setup -d /dev/ttyACM0 -b 921600`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := prepare(cmd, args)
		if err != nil {
			return err
		}
		restart, _ := cmd.Flags().GetBool("restart")
		return app.Setup(restart)
	},
}

func getRootCmd() *cobra.Command {
	ServeCmdFlags(ServeCmd)
	RootCmd.AddCommand(ServeCmd)

	InitCmdFlags(InitCmd)
	RootCmd.AddCommand(InitCmd)

	ProbeCmdFlags(ProbeCmd)
	RootCmd.AddCommand(ProbeCmd)

	RecordCmdFlags(RecordCmd)
	RootCmd.AddCommand(RecordCmd)

	SetupCmdFlags(SetupCmd)
	RootCmd.AddCommand(SetupCmd)

	return RootCmd
}

func Execute() error {
	return getRootCmd().Execute()
}
