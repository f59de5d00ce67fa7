package config

import (
	"bufio"
	"errors"
	"fmt"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
	"imu_apiserver/internal/utils"
	"os"
	"path"
	"strings"
	"time"
)

const DefaultAppName = "imu_apiserver"
const DefaultConfigName = "config"
const DefaultGRPCInterface = "0.0.0.0"
const DefaultGRPCPort = 18890
const DefaultAPIInterface = "0.0.0.0"
const DefaultAPIPort = 18889
const DefaultIMUID = "imu_0"
const DefaultIMUName = "/dev/ttyACM0"
const DefaultIMUBaud = 921600
const DefaultIMUCRC = "ccitt-false"

// acquisition defaults, taken from the vendor bring-up procedure
const DefaultCommandRepeat = 5
const DefaultCommandPause = 10 * time.Millisecond
const DefaultSettlePause = 100 * time.Millisecond
const DefaultReadTimeout = 500 * time.Millisecond
const DefaultErrorLogThreshold = 1200

// consecutive hard read errors (not timeouts) before the manager reports a fault
const DefaultFaultThreshold = 50

var userHomeDir, _ = os.UserHomeDir()
var DefaultConfig = path.Join(userHomeDir, ".config/"+DefaultAppName+"/"+DefaultConfigName+".yaml")
var DefaultConfigSearchPath0 = path.Join(userHomeDir, ".config", DefaultAppName)

const DefaultConfigSearchPath1 = "/etc/" + DefaultAppName
const DefaultConfigSearchPath2 = "./"
const DefaultConfigSearchPath3 = "/config"

type GRPCOpt struct {
	Port      int    `yaml:"port" mapstructure:"port"`
	Interface string `yaml:"interface" mapstructure:"interface"`
}

type APIOpt struct {
	Port      int    `yaml:"port" mapstructure:"port"`
	Interface string `yaml:"interface" mapstructure:"interface"`
}

// IMUOpt describes the single serial IMU served by this process
type IMUOpt struct {
	ID   string `yaml:"id" mapstructure:"id"`
	Name string `yaml:"name" mapstructure:"name"`
	Baud int    `yaml:"baud" mapstructure:"baud"`
	// CRC selects the 16-bit checksum variant used to validate subframes
	CRC string `yaml:"crc" mapstructure:"crc"`
	// ReconfigureOnStart replays the configuration sequence whenever the port is reopened
	ReconfigureOnStart bool `yaml:"reconfigure_on_start" mapstructure:"reconfigure_on_start"`
}

// AcquisitionOpt holds the tunables of the bring-up sequence and the read loop
type AcquisitionOpt struct {
	CommandRepeat     int           `yaml:"command_repeat" mapstructure:"command_repeat"`
	CommandPause      time.Duration `yaml:"command_pause" mapstructure:"command_pause"`
	SettlePause       time.Duration `yaml:"settle_pause" mapstructure:"settle_pause"`
	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	ErrorLogThreshold int           `yaml:"error_log_threshold" mapstructure:"error_log_threshold"`
	FaultThreshold    int           `yaml:"fault_threshold" mapstructure:"fault_threshold"`
}

type IMUServerOpt struct {
	GRPC        GRPCOpt        `yaml:"grpc" mapstructure:"grpc"`
	API         APIOpt         `yaml:"api" mapstructure:"api"`
	IMU         IMUOpt         `yaml:"imu" mapstructure:"imu"`
	Acquisition AcquisitionOpt `yaml:"acquisition" mapstructure:"acquisition"`
	Debug       bool           `yaml:"debug" mapstructure:"debug"`
}

type IMUServerDesc struct {
	Opt   IMUServerOpt
	Viper *viper.Viper
}

func NewIMUServerDesc() IMUServerDesc {
	return IMUServerDesc{
		Opt:   NewIMUServerOpt(),
		Viper: nil,
	}
}

func NewIMUOpt() IMUOpt {
	return IMUOpt{
		ID:   DefaultIMUID,
		Name: DefaultIMUName,
		Baud: DefaultIMUBaud,
		CRC:  DefaultIMUCRC,
	}
}

func NewAcquisitionOpt() AcquisitionOpt {
	return AcquisitionOpt{
		CommandRepeat:     DefaultCommandRepeat,
		CommandPause:      DefaultCommandPause,
		SettlePause:       DefaultSettlePause,
		ReadTimeout:       DefaultReadTimeout,
		ErrorLogThreshold: DefaultErrorLogThreshold,
		FaultThreshold:    DefaultFaultThreshold,
	}
}

func NewIMUServerOpt() IMUServerOpt {
	return IMUServerOpt{
		GRPC: GRPCOpt{
			Port:      DefaultGRPCPort,
			Interface: DefaultGRPCInterface,
		},
		API: APIOpt{
			Port:      DefaultAPIPort,
			Interface: DefaultAPIInterface,
		},
		IMU:         NewIMUOpt(),
		Acquisition: NewAcquisitionOpt(),
		Debug:       false,
	}
}

func setDefaults(vipCfg *viper.Viper) {
	vipCfg.SetDefault("grpc.port", DefaultGRPCPort)
	vipCfg.SetDefault("grpc.interface", DefaultGRPCInterface)
	vipCfg.SetDefault("api.port", DefaultAPIPort)
	vipCfg.SetDefault("api.interface", DefaultAPIInterface)
	vipCfg.SetDefault("imu.id", DefaultIMUID)
	vipCfg.SetDefault("imu.name", DefaultIMUName)
	vipCfg.SetDefault("imu.baud", DefaultIMUBaud)
	vipCfg.SetDefault("imu.crc", DefaultIMUCRC)
	vipCfg.SetDefault("imu.reconfigure_on_start", false)
	vipCfg.SetDefault("acquisition.command_repeat", DefaultCommandRepeat)
	vipCfg.SetDefault("acquisition.command_pause", DefaultCommandPause)
	vipCfg.SetDefault("acquisition.settle_pause", DefaultSettlePause)
	vipCfg.SetDefault("acquisition.read_timeout", DefaultReadTimeout)
	vipCfg.SetDefault("acquisition.error_log_threshold", DefaultErrorLogThreshold)
	vipCfg.SetDefault("acquisition.fault_threshold", DefaultFaultThreshold)
	vipCfg.SetDefault("debug", false)
}

func bindFlag(vipCfg *viper.Viper, cmd *cobra.Command, key string, name string) {
	if f := cmd.Flags().Lookup(name); f != nil {
		_ = vipCfg.BindPFlag(key, f)
	}
}

func (o *IMUServerDesc) Parse(cmd *cobra.Command) error {
	vipCfg := viper.New()
	setDefaults(vipCfg)

	if configFileCmd, err := cmd.Flags().GetString("config"); err == nil && configFileCmd != "" {
		vipCfg.SetConfigFile(configFileCmd)
	} else {
		configFileEnv := os.Getenv("IMU_APISERVER_CONFIG")
		if configFileEnv != "" {
			vipCfg.SetConfigFile(configFileEnv)
		} else {
			vipCfg.SetConfigName(DefaultConfigName)
			vipCfg.SetConfigType("yaml")
			vipCfg.AddConfigPath(DefaultConfigSearchPath0)
			vipCfg.AddConfigPath(DefaultConfigSearchPath1)
			vipCfg.AddConfigPath(DefaultConfigSearchPath2)
			vipCfg.AddConfigPath(DefaultConfigSearchPath3)
		}
	}

	vipCfg.SetEnvPrefix(DefaultAppName)
	vipCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vipCfg.AutomaticEnv()

	bindFlag(vipCfg, cmd, "api.port", "port")
	bindFlag(vipCfg, cmd, "api.interface", "interface")
	bindFlag(vipCfg, cmd, "debug", "debug")
	bindFlag(vipCfg, cmd, "imu.name", "device")
	bindFlag(vipCfg, cmd, "imu.baud", "baud")

	// If a config file is found, read it in.
	if err := vipCfg.ReadInConfig(); err == nil {
		log.Debugln("using config file:", vipCfg.ConfigFileUsed())
	} else {
		log.Debugln(err)
	}

	if err := vipCfg.Unmarshal(&o.Opt); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	o.Viper = vipCfg
	return nil
}

func (o *IMUServerDesc) PostParse() {
	if o.Opt.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// SaveConfig writes the current options back to the configuration file that
// Parse read them from
func (o *IMUServerDesc) SaveConfig() error {
	if o.Viper == nil {
		return errors.New("viper is nil")
	}
	configFile := o.Viper.ConfigFileUsed()
	if configFile == "" {
		return errors.New("no configuration file in use, create one with init")
	}
	if _, err := os.Stat(configFile); err != nil {
		return fmt.Errorf("configuration file %s: %w", configFile, err)
	}
	f, err := os.OpenFile(configFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	w := bufio.NewWriter(f)
	s, _ := yaml.Marshal(o.Opt)
	_, err = w.Write(s)
	if err != nil {
		return err
	}
	return w.Flush()
}

// InitCfg initConfig prepares config for the application
func InitCfg(cmd *cobra.Command, _ []string) error {
	printFlag, _ := cmd.Flags().GetBool("print")
	outputPath, _ := cmd.Flags().GetString("output")
	overwriteFlag, _ := cmd.Flags().GetBool("yes")

	desc := NewIMUServerDesc()
	err := desc.Parse(cmd)
	if err != nil {
		log.Errorln(err)
		return err
	}

	if printFlag {
		configBuffer, _ := yaml.Marshal(desc.Opt)
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(configBuffer))
	} else {
		return utils.DumpOption(desc.Opt, outputPath, overwriteFlag)
	}
	return nil
}
