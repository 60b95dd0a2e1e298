package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"safevision/internal/config"
	"safevision/internal/surveillance"
)

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Start safevision server",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func runServe() {
	conf, err := config.LoadConfig(configFile)
	if err != nil {
		logrus.Fatal("loadConfig error, ", err.Error())
	}

	logrus.Infof("config: %+v", conf)

	sys, err := surveillance.NewSystem(conf)
	if err != nil {
		logrus.WithError(err).Fatalf("new system")
		return
	}
	go sys.Start()

	termChan := make(chan os.Signal, 1)
	signal.Notify(termChan, syscall.SIGINT, syscall.SIGTERM)

	<-termChan
	logrus.Infof("safevision is shutting down...")
	sys.Stop()
}
