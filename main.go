package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"variant-mil/utils"
)

const usage = `Expected a subcommand:
  run      train (or load with -cached) and classify every variant of a gene
  predict  classify a gene with a saved model
  history  list stored runs or the verdict history of one variant`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}
	_ = godotenv.Load()

	var err error
	switch os.Args[1] {
	case "run":
		runCmd := flag.NewFlagSet("run", flag.ExitOnError)
		opts := bindCommonFlags(runCmd)
		runCmd.Parse(os.Args[2:])
		err = runPipeline(opts)
	case "predict":
		predictCmd := flag.NewFlagSet("predict", flag.ExitOnError)
		opts := bindCommonFlags(predictCmd)
		modelDir := predictCmd.String("model", "", "Model folder written by 'run' (default <out>/<method>-model-<seed>)")
		predictCmd.Parse(os.Args[2:])
		err = predictVariants(opts, *modelDir)
	case "history":
		historyCmd := flag.NewFlagSet("history", flag.ExitOnError)
		configPath := historyCmd.String("config", "config.yaml", "Path to YAML configuration")
		gene := historyCmd.String("g", "", "Gene to list runs for (all genes when empty)")
		variant := historyCmd.String("variant", "", "Show the verdict history of this variant")
		historyCmd.Parse(os.Args[2:])
		err = showHistory(*configPath, *gene, *variant)
	default:
		fmt.Println(usage)
		os.Exit(1)
	}

	if err != nil {
		utils.GetLogger().ErrorContext(context.Background(), "Command failed.", slog.Any("error", err))
		os.Exit(1)
	}
}
