package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	log "github.com/sirupsen/logrus"

	"github.com/unbasical/webship/common"
	"github.com/unbasical/webship/configs"
	"github.com/unbasical/webship/internal/pkg/core"
	"github.com/unbasical/webship/internal/pkg/utils/logutils"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var (
		app = kingpin.New("webship-server", "A server that deploys published site snapshots to object stores and CDNs")

		host       = app.Flag("host", "Hostname or IP address the server binds to").Default("127.0.0.1").Envar("WEBSHIP_HOST").String()
		port       = app.Flag("http-port", "HTTP port the server listens on").Default("8080").Envar("WEBSHIP_HTTP_PORT").Uint16()
		configPath = app.Flag("config", "Path to the environments config file").Default("config.yaml").Envar("WEBSHIP_CONFIG").ExistingFile()
		logLevel   = app.Flag("log-level", "Log-Level, must be one of [DEBUG, INFO, WARN, ERROR]").Default("INFO").Envar("LOG_LEVEL").Enum("DEBUG", "INFO", "WARN", "ERROR", "debug", "info", "warn", "error")
		logFormat  = app.Flag("log-format", "Log-Format, must be one of [TEXT, JSON]").Default("TEXT").Envar("LOG_FORMAT").Enum("TEXT", "JSON")
	)
	app.HelpFlag.Short('h')
	app.Version(common.Version())
	kingpin.MustParse(app.Parse(os.Args[1:]))

	logutils.SetLogLevel(*logLevel)
	logutils.SetLogFormat(*logFormat)

	configFile, err := configs.LoadConfigFile(*configPath)
	if err != nil {
		log.WithError(err).Fatalf("failed to load config file %q", *configPath)
	}

	webship := core.New(configs.ServerConfig{
		ConfigFile: *configFile,
		CliOpts: configs.CLIOptions{
			Host:     *host,
			HTTPPort: *port,
			LogLevel: *logLevel,
		},
	})
	webship.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Infof("received %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := webship.Stop(ctx); err != nil {
		log.WithError(err).Fatal("failed to shut down cleanly")
	}
	log.Info("server stopped")
}
