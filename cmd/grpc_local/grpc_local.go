package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc2 "imu_apiserver/internal/controller/grpc"
	"imu_apiserver/internal/utils"
	"os"
	"time"
)

var defaultTableValue = [][]string{{"Acc", "Gyro", "Euler"}}

func getTable() *widgets.Table {
	table := widgets.NewTable()
	table.Rows = defaultTableValue
	table.ColumnWidths = []int{24, 24, 24}
	table.TextStyle = ui.NewStyle(ui.ColorWhite)
	table.TextAlignment = ui.AlignRight
	table.SetRect(0, 0, 74, 5)
	return table
}

type jsonlRecord struct {
	Time  int64      `json:"time"`
	Acc   [3]float32 `json:"acc"`
	Gyro  [3]float32 `json:"gyro"`
	Euler [3]float32 `json:"euler"`
}

func updateValue(ctx context.Context, address string, interval time.Duration, dump bool, table *widgets.Table, errc chan<- error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		errc <- fmt.Errorf("did not connect: %w", err)
		return
	}
	defer conn.Close()
	c := grpc2.NewClient(conn)

	if _, err = c.Start(ctx); err != nil {
		errc <- fmt.Errorf("could not start imu: %w", err)
		return
	}
	next, err := c.Subscribe(ctx, interval)
	if err != nil {
		errc <- fmt.Errorf("could not subscribe: %w", err)
		return
	}

	var writer *bufio.Writer
	if dump {
		file, err := os.Create(fmt.Sprintf("%v.jsonl", time.Now().Format("2006-01-02T15-04-05")))
		if err != nil {
			errc <- fmt.Errorf("could not create file: %w", err)
			return
		}
		defer file.Close()
		writer = bufio.NewWriter(file)
		defer writer.Flush()
	}

	table.Rows = append(table.Rows, []string{"", "", ""})
	for idx := 0; ; idx++ {
		sample, err := next()
		if err != nil {
			errc <- fmt.Errorf("could not receive sample: %w", err)
			return
		}
		table.Rows[1] = []string{utils.FormatTriple(sample.Acc), utils.FormatTriple(sample.Gyro), utils.FormatTriple(sample.Euler)}

		if writer != nil {
			b, err := json.Marshal(jsonlRecord{
				Time:  time.Now().UnixNano(),
				Acc:   sample.Acc,
				Gyro:  sample.Gyro,
				Euler: sample.Euler,
			})
			if err != nil {
				errc <- err
				return
			}
			_, _ = writer.Write(append(b, '\n'))
			if idx%100 == 0 {
				_ = writer.Flush()
			}
		}
		ui.Render(table)
	}
}

func _main(cmd *cobra.Command, args []string) error {
	debug, _ := cmd.Flags().GetBool("debug")
	if debug {
		log.SetLevel(log.DebugLevel)
	}
	address, _ := cmd.Flags().GetString("address")
	interval, _ := cmd.Flags().GetDuration("interval")
	dump, _ := cmd.Flags().GetBool("dump")

	log.Info("Starting")
	if err := ui.Init(); err != nil {
		return fmt.Errorf("failed to initialize termui: %w", err)
	}
	defer ui.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t := getTable()
	errc := make(chan error, 1)
	go updateValue(ctx, address, interval, dump, t, errc)

	uiEvents := ui.PollEvents()
	for {
		select {
		case err := <-errc:
			return err
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			}
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "grpc_local",
	Short: "grpc_local shows the samples streamed by a running imu_apiserver",
	Long:  "grpc_local shows the samples streamed by a running imu_apiserver",
	RunE:  _main,
}

func main() {
	rootCmd.Flags().String("address", "127.0.0.1:18890", "default dial address")
	rootCmd.Flags().Duration("interval", 10*time.Millisecond, "stream interval")
	rootCmd.Flags().Bool("dump", false, "write the received samples to a jsonl file")
	rootCmd.Flags().Bool("debug", false, "toggle debug logging")

	err := rootCmd.Execute()
	if err != nil {
		log.Errorln(err)
		os.Exit(1)
	}
}
