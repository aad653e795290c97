// Package main is the entry point for the link broker daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nugget/linkbroker/internal/buildinfo"
	"github.com/nugget/linkbroker/internal/config"
	"github.com/nugget/linkbroker/internal/dispatch"
	"github.com/nugget/linkbroker/internal/linkdirectory"
	"github.com/nugget/linkbroker/internal/metrics"
	"github.com/nugget/linkbroker/internal/mqttbridge"
	"github.com/nugget/linkbroker/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger, *configPath)
		case "register":
			if flag.NArg() < 2 {
				fmt.Fprintln(os.Stderr, "usage: linkbrokerd register <name> [-requester] [-responder]")
				os.Exit(1)
			}
			runRegister(logger, *configPath, flag.Args()[1:])
		case "pair":
			if flag.NArg() < 2 {
				fmt.Fprintln(os.Stderr, "usage: linkbrokerd pair <name>")
				os.Exit(1)
			}
			runPair(logger, *configPath, flag.Arg(1))
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
		return
	}

	fmt.Println("linkbrokerd - hierarchical link broker")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Start the broker")
	fmt.Println("  register  Register a link in the directory")
	fmt.Println("  pair      Display a pairing QR code for a registered link")
	fmt.Println("  version   Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func runServe(logger *slog.Logger, configPath string) {
	logger.Info("starting linkbroker", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"listen_port", cfg.Listen.Port,
		"grace_window", cfg.GraceWindow,
		"downstream_prefix", cfg.DownstreamDir,
	)

	dir, err := linkdirectory.Open(cfg.LinkDirectory.Path)
	if err != nil {
		logger.Error("failed to open link directory", "path", cfg.LinkDirectory.Path, "error", err)
		os.Exit(1)
	}
	defer dir.Close()
	logger.Info("link directory opened", "path", cfg.LinkDirectory.Path)

	router := dispatch.New(dispatch.Config{
		DownstreamPrefix: cfg.DownstreamDir,
		GraceWindow:      cfg.GraceWindow,
		Logger:           logger,
	})
	router.Start()
	defer router.Stop()

	var bridge *mqttbridge.Bridge
	if cfg.MQTT.Enabled {
		bridge = mqttbridge.New(mqttbridge.Config{
			Broker:      cfg.MQTT.Broker,
			Topics:      cfg.MQTT.Topics,
			MountPrefix: cfg.MQTT.MountPrefix,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
		}, router, logger.With("component", "mqttbridge"))
	}

	listenAddr := net.JoinHostPort(cfg.Listen.Address, strconv.Itoa(cfg.Listen.Port))
	server := transport.NewServer(listenAddr, router, dir, logger.With("component", "transport"))

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsAddr := net.JoinHostPort(cfg.Metrics.Address, strconv.Itoa(cfg.Metrics.Port))
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			logger.Info("starting metrics endpoint", "addr", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if bridge != nil {
		go func() {
			if err := bridge.Start(ctx); err != nil {
				logger.Error("mqtt bridge failed", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		_ = server.Shutdown(shutdownCtx)
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
	}()

	logger.Info("broker listening", "addr", listenAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("transport server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("linkbroker stopped")
}

func runRegister(logger *slog.Logger, configPath string, args []string) {
	name := args[0]
	var isRequester, isResponder bool
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	fs.BoolVar(&isRequester, "requester", false, "allow this link to act as a requester")
	fs.BoolVar(&isResponder, "responder", false, "allow this link to act as a responder")
	fs.Parse(args[1:])

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	dir, err := linkdirectory.Open(cfg.LinkDirectory.Path)
	if err != nil {
		logger.Error("failed to open link directory", "path", cfg.LinkDirectory.Path, "error", err)
		os.Exit(1)
	}
	defer dir.Close()

	secret := generateSecret()
	if err := dir.Register(name, isRequester, isResponder, secret); err != nil {
		logger.Error("register failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("registered %q (requester=%v responder=%v)\n", name, isRequester, isResponder)
	fmt.Printf("secret: %s\n", secret)
	fmt.Println("run \"linkbrokerd pair\" to display a QR code for this link")
}

func runPair(logger *slog.Logger, configPath string, name string) {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	dir, err := linkdirectory.Open(cfg.LinkDirectory.Path)
	if err != nil {
		logger.Error("failed to open link directory", "path", cfg.LinkDirectory.Path, "error", err)
		os.Exit(1)
	}
	defer dir.Close()

	entries, err := dir.List()
	if err != nil {
		logger.Error("list links failed", "error", err)
		os.Exit(1)
	}
	var entry *linkdirectory.Entry
	for i := range entries {
		if entries[i].Name == name {
			entry = &entries[i]
			break
		}
	}
	if entry == nil {
		fmt.Fprintf(os.Stderr, "no such link: %s\n", name)
		os.Exit(1)
	}

	if err := printPairingCode(name, entry.CreatedAt, cfg); err != nil {
		logger.Error("pairing display failed", "error", err)
		os.Exit(1)
	}
}
