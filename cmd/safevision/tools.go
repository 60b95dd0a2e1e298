package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"safevision/internal/analyzer"
	"safevision/internal/config"
	"safevision/internal/vision"
)

var (
	inputImage  string
	outputImage string
	tritonURL   string
	modelName   string
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Debugging tools",
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze one image with the triton model and write the annotated result",
	Run: func(cmd *cobra.Command, args []string) {
		conf := config.DefaultConfig().Triton
		if cmd.Flags().Changed("config") {
			loaded, err := config.LoadConfig(configFile)
			if err != nil {
				logrus.Fatal("loadConfig error, ", err.Error())
			}
			conf = loaded.Triton
		}
		if tritonURL != "" {
			conf.ServerAddr = tritonURL
		}
		if modelName != "" {
			conf.ModelName = modelName
		}
		if err := analyzeImage(conf, inputImage, outputImage); err != nil {
			logrus.WithError(err).Fatal("analyze image")
		}
	},
}

func analyzeImage(conf config.TritonConfig, inputPath, outputPath string) error {
	payload, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	format, err := vision.Probe(payload)
	if err != nil {
		return err
	}

	t, err := analyzer.NewTriton(conf)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := t.Ready(ctx); err != nil {
		return fmt.Errorf("triton not ready: %w", err)
	}

	start := time.Now()
	res := t.Analyze(ctx, payload)
	if res.Err != nil {
		return res.Err
	}
	analysis := res.Analysis
	logrus.Infof("inference took %s", time.Since(start))

	annotated, err := vision.NewAnnotator().Render(payload, analysis, 0, format, 90)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, annotated, 0644); err != nil {
		return err
	}

	out, _ := json.MarshalIndent(analysis, "", "  ")
	fmt.Println(string(out))
	return nil
}

func init() {
	analyzeCmd.Flags().StringVarP(&inputImage, "input", "i", "in.jpg", "Input image path")
	analyzeCmd.Flags().StringVarP(&outputImage, "output", "o", "out.jpg", "Output image path")
	analyzeCmd.Flags().StringVar(&tritonURL, "triton-url", "", "Triton server URL, overrides the config")
	analyzeCmd.Flags().StringVar(&modelName, "model", "", "Model name, overrides the config")

	toolsCmd.AddCommand(analyzeCmd)
}
