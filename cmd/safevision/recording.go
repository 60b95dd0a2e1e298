package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"safevision/internal/config"
	"safevision/internal/metadata"
	"safevision/internal/recording"
)

var cleanupDays int

var recordingCmd = &cobra.Command{
	Use:   "recording",
	Short: "Recording management tools",
	Long:  `Manage the recordings stored in the work directory. Stop the server first, the catalog can only be opened by one process.`,
}

var listRecordingCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all recordings",
	Run: func(cmd *cobra.Command, args []string) {
		listRecordings()
	},
}

var deleteRecordingCmd = &cobra.Command{
	Use:     "delete <filename>",
	Aliases: []string{"rm", "del"},
	Short:   "Delete a recording and its thumbnail",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		deleteRecording(args[0])
	},
}

var cleanupRecordingCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete recordings older than --days",
	Run: func(cmd *cobra.Command, args []string) {
		cleanupRecordings()
	},
}

func init() {
	cleanupRecordingCmd.Flags().IntVarP(&cleanupDays, "days", "d", 30, "Maximum age in days")

	recordingCmd.AddCommand(listRecordingCmd)
	recordingCmd.AddCommand(deleteRecordingCmd)
	recordingCmd.AddCommand(cleanupRecordingCmd)
}

func openManager() (*recording.Manager, func()) {
	conf, err := config.LoadConfig(configFile)
	if err != nil {
		logrus.Fatal("loadConfig error, ", err.Error())
	}

	metadataDB, err := metadata.NewMetadataDB(conf.MetadataDir(), logrus.WithField("component", "metadataDB"))
	if err != nil {
		logrus.WithError(err).Fatalf("new metadata db")
	}

	mgr, err := recording.NewManager(conf.RecordingDir(), conf.Recording, metadataDB, nil)
	if err != nil {
		metadataDB.Close()
		logrus.WithError(err).Fatalf("new recording manager")
	}
	return mgr, func() {
		mgr.Close()
		metadataDB.Close()
	}
}

func listRecordings() {
	mgr, closeFn := openManager()
	defer closeFn()

	list, err := mgr.List()
	if err != nil {
		logrus.WithError(err).Fatalf("list recordings")
		return
	}
	if len(list) == 0 {
		logrus.Info("No recordings found")
		return
	}

	for i, info := range list {
		infoJSON, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			logrus.WithError(err).Errorf("marshal recording %s to JSON", info.Filename)
			continue
		}
		fmt.Printf("Recording %d: %s\n", i, string(infoJSON))
	}
}

func deleteRecording(filename string) {
	logrus.Infof("Deleting recording: %s", filename)
	mgr, closeFn := openManager()
	defer closeFn()

	if err := mgr.Delete(filename); err != nil {
		logrus.WithError(err).Errorf("delete recording %s", filename)
		return
	}
	logrus.Infof("delete recording %s success", filename)
}

func cleanupRecordings() {
	if cleanupDays < 1 {
		logrus.Fatal("--days must be at least 1")
	}
	mgr, closeFn := openManager()
	defer closeFn()

	res, err := mgr.Cleanup(time.Duration(cleanupDays) * 24 * time.Hour)
	if err != nil {
		logrus.WithError(err).Errorf("cleanup recordings")
		return
	}
	logrus.Infof("deleted %d recordings, freed %.2f MB", res.DeletedCount, res.FreedMB)
}
