package main

import (
	"os"

	"github.com/spf13/cobra"

	"safevision/internal/version"
	"safevision/pkg/log"
)

var (
	logLevel   string
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "safevision",
	Short: "safevision is a streaming surveillance pipeline",
	Long: `SafeVision analyzes live camera frames for suspicious behavior, raises alerts and records sessions.
Version: ` + version.VERSION + `/` + version.COMMIT,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.InitLog(logLevel)
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "Log level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "etc/safevision.yaml", "Path to config file")

	rootCmd.AddCommand(serveCommand)
	rootCmd.AddCommand(updateDBCommand)
	rootCmd.AddCommand(recordingCmd)
	rootCmd.AddCommand(toolsCmd)
}

func main() {
	Execute()
}
