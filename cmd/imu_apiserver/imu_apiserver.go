package main

import (
	log "github.com/sirupsen/logrus"
	"imu_apiserver/internal/cmd"
	"os"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Errorln(err)
		os.Exit(1)
	}
}
