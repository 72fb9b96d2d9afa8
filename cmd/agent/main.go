package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"connect-agent/internal/config"
	"connect-agent/internal/filetree"
	"connect-agent/internal/health"
	"connect-agent/internal/printer"
	"connect-agent/internal/telemetry"
	"connect-agent/internal/transport"
	"connect-agent/pkg/models"
)

func main() {
	cfg, err := config.LoadConfig("config.yml")
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	fingerprint := cfg.Fingerprint
	if fingerprint == "" {
		fingerprint = uuid.NewString()
		logrus.WithField("fingerprint", fingerprint).Info("Generated fingerprint")
	}

	server := transport.ConnectURL(cfg.ServerHost, cfg.ServerTLS, cfg.ServerPort)
	conn := transport.NewConnection(server, fingerprint)
	registry := health.NewRegistry()
	tree := filetree.NewDirTree(cfg.FilesRoot)

	p := printer.NewPrinter(conn, registry, tree, nil)
	if err := p.SetSerialNumber(cfg.SerialNumber); err != nil {
		logrus.Fatalf("Failed to set identity: %v", err)
	}
	if err := p.SetPrinterType(models.PrinterType{
		Type:       cfg.PrinterType,
		Version:    cfg.Version,
		Subversion: cfg.Subversion,
	}); err != nil {
		logrus.Fatalf("Failed to set identity: %v", err)
	}
	p.SetFirmware(cfg.Firmware)
	p.Downloads().KeepPartial = cfg.KeepPartial

	if cfg.Token != "" {
		p.SetToken(cfg.Token)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sampler := telemetry.New(p, time.Duration(cfg.TelemetrySec)*time.Second)
	sampler.Start(ctx)

	go p.Loop()
	logrus.WithField("server", server).Info("Agent is online")

	if cfg.Token == "" {
		code, err := p.Register()
		if err != nil {
			logrus.Fatalf("Registration failed: %v", err)
		}
		fmt.Printf("Confirm this device in the service UI with code: %s\n", code)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logrus.Info("Shutting down agent...")
	p.StopLoop()
	cancel()
}
