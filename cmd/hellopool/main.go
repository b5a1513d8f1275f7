// Command hellopool serves hello.html and 404.html over TCP from a fixed-size
// worker pool until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/fluxorio/hellopool/pkg/config"
	"github.com/fluxorio/hellopool/pkg/core"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	writeConfig := flag.String("write-config", "", "write the effective configuration as YAML to this path and exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}
	if *writeConfig != "" {
		if err := config.SaveYAML(*writeConfig, cfg); err != nil {
			log.Printf("Failed to write config: %v", err)
			return 1
		}
		return 0
	}

	logger, err := core.NewLogger(cfg.Log)
	if err != nil {
		log.Printf("Failed to build logger: %v", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()
	undo := zap.ReplaceGlobals(logger.Desugar())
	defer undo()

	shutdown := core.NewShutdownFlag()
	stop := core.NotifyShutdown(shutdown, logger)
	defer stop()

	if err := run(context.Background(), cfg, logger, shutdown, nil); err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	logger.Info("Server shut down.")
	return 0
}

// usage is printed by -h.
func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-config file] [-write-config file]\n\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "Settings can be overridden with %s_* environment variables, e.g. %s_SERVER_WORKERS=8.\n\n", EnvPrefix, EnvPrefix)
		flag.PrintDefaults()
	}
}
