package main

import (
	"fmt"
	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"imu_apiserver/internal/config"
	"imu_apiserver/internal/manager"
	"imu_apiserver/internal/manager/dmimu"
	"imu_apiserver/internal/server"
	"imu_apiserver/internal/utils"
	"os"
	"time"
)

var defaultTableValue = [][]string{{"ID", "Acc", "Gyro", "Euler", "Seq"}}

func getTable() *widgets.Table {
	table := widgets.NewTable()
	table.Rows = defaultTableValue
	table.ColumnWidths = []int{10, 24, 24, 24, 12}
	table.TextStyle = ui.NewStyle(ui.ColorWhite)
	table.TextAlignment = ui.AlignRight
	table.SetRect(0, 0, 96, 5)
	return table
}

func getStats() *widgets.Paragraph {
	p := widgets.NewParagraph()
	p.Title = "stats"
	p.SetRect(0, 5, 96, 12)
	return p
}

func updateValue(m manager.Manager, table *widgets.Table, stats *widgets.Paragraph) {
	table.Rows = append(table.Rows, []string{"", "", "", "", ""})
	for {
		sample := m.Latest()
		st := m.Status()
		table.Rows[1] = []string{
			st.ID,
			utils.FormatTriple(sample.Acc),
			utils.FormatTriple(sample.Gyro),
			utils.FormatTriple(sample.Euler),
			fmt.Sprintf("%d", st.Seq),
		}
		stats.Text = fmt.Sprintf("frames: %d\nshort: %d\nunsynchronized: %d\ncrc errors acc/gyro/euler: %v\nread errors: %d",
			st.Stats.Frames, st.Stats.ShortFrames, st.Stats.Unsynchronized, st.Stats.CRCErrors, st.Stats.ReadErrors)

		ui.Render(table, stats)
		time.Sleep(time.Millisecond * 10)
	}
}

func _main(cmd *cobra.Command, args []string) error {
	app, err := server.NewMainApp(cmd, args).PrepareRun()
	if err != nil {
		return err
	}
	m, err := dmimu.NewManager(app.GetOpt())
	if err != nil {
		return err
	}
	if err = m.Start(); err != nil {
		_ = m.Stop()
		return err
	}
	defer func() { _ = m.Stop() }()

	log.Info("Starting")
	if err := ui.Init(); err != nil {
		return fmt.Errorf("failed to initialize termui: %w", err)
	}
	defer ui.Close()

	t := getTable()
	s := getStats()
	go updateValue(m, t, s)

	uiEvents := ui.PollEvents()
	for {
		e := <-uiEvents
		switch e.ID {
		case "q", "<C-c>":
			return nil
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "serial_playground",
	Short: "serial_playground shows the live IMU sample in the terminal",
	Long:  "serial_playground shows the live IMU sample in the terminal",
	RunE:  _main,
}

func main() {
	rootCmd.Flags().String("config", "", "default configuration path")
	rootCmd.Flags().StringP("device", "d", config.DefaultIMUName, "serial device of the IMU")
	rootCmd.Flags().IntP("baud", "b", config.DefaultIMUBaud, "baud rate")
	rootCmd.Flags().Bool("debug", false, "toggle debug logging")

	if err := rootCmd.Execute(); err != nil {
		log.Errorln(err)
		os.Exit(1)
	}
}
