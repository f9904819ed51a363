// Command wiretap runs the passive Modbus RTU wiretap pipeline: one
// Fetcher/Framer per configured serial port, decoding correlated pairs
// against a reloadable device mapping and persisting both raw pairs and
// decoded measures.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/lumberbarons/wiretap/internal/config"
	"github.com/lumberbarons/wiretap/internal/controller"
)

func main() {
	app := &cli.App{
		Name:      "wiretap",
		Usage:     "Passively tap and decode Modbus RTU traffic on one or more serial ports",
		ArgsUsage: "[port ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "background", Value: "background.json", Usage: "Path to background.json"},
			&cli.StringFlag{Name: "site-devices", Value: "site_devices.json", Usage: "Path to site_devices.json"},
			&cli.StringFlag{Name: "templates", Value: "sos_templates_modbus.json", Usage: "Path to sos_templates_modbus.json"},
			&cli.StringFlag{Name: "raw-db", Value: "raw_pairs.db", Usage: "Path to the raw-pair sqlite store"},
			&cli.StringFlag{Name: "measure-db", Value: "measures.db", Usage: "Path to the measure sqlite store"},
			&cli.StringFlag{Name: "status-dir", Value: ".", Usage: "Directory for the live status JSON files"},
			&cli.IntFlag{Name: "baud", Value: 9600, Usage: "Serial baud rate"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	ports := c.Args().Slice()
	clearInterval := time.Duration(0)

	bg, bgErr := config.LoadBackground(c.String("background"))
	if bgErr == nil {
		clearInterval = bg.ClearInterval
	}
	if len(ports) == 0 {
		if bgErr != nil {
			return fmt.Errorf("no ports given and background.json unreadable: %w", bgErr)
		}
		ports = bg.Ports
	}
	if len(ports) == 0 {
		return fmt.Errorf("no serial ports given, either as arguments or in background.json")
	}

	ctrl, err := controller.New(controller.Config{
		Ports:            ports,
		BaudRate:         c.Int("baud"),
		ClearInterval:    clearInterval,
		SiteDevicesPath:  c.String("site-devices"),
		TemplatesPath:    c.String("templates"),
		RawStorePath:     c.String("raw-db"),
		MeasureStorePath: c.String("measure-db"),
		StatusDir:        c.String("status-dir"),
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("starting controller: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	go func() {
		sig := <-sigCh
		logger.Printf("modbus wiretap: received %s, shutting down", sig)
		cancel()
	}()

	logger.Printf("modbus wiretap: starting on ports %v", ports)
	return ctrl.Run(ctx)
}
