// Command airride is the Galactica PID-1 service supervisor. Run as any
// other PID it enters test mode: no mounts, no device nodes, but the full
// service registry and control socket.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/LinkNavi/galactica/internal/config"
	"github.com/LinkNavi/galactica/internal/logging"
	"github.com/LinkNavi/galactica/internal/supervisor"
	"go.uber.org/zap"
)

func main() {
	servicesDir := flag.String("services", "", "override service definition directory")
	socketPath := flag.String("socket", "", "override control socket path")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *servicesDir != "" {
		cfg.Init.ServicesDir = *servicesDir
	}
	if *socketPath != "" {
		cfg.Init.SocketPath = *socketPath
	}

	testMode := os.Getpid() != 1

	logCfg := logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development || testMode,
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		logger = logging.NewDefault()
	}
	defer logger.Sync()

	logger.Info("airride starting",
		zap.Int("pid", os.Getpid()), zap.Bool("test_mode", testMode))
	if testMode {
		logger.Warn("not running as PID 1, entering test mode")
	}

	sup := supervisor.New(cfg.Init, logger, testMode)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		sup.Shutdown()
	}()

	if err := sup.Boot(); err != nil {
		logger.Fatal("boot failed", zap.Error(err))
	}
	logger.Info("system initialized, use airridectl to manage services")

	sup.Run()
}
