// Command scanner walks a CIDR range, pings each host, and for live
// hosts probes a TCP port (by default 502, the usual Modbus-TCP port).
// It is read-only discovery: it never issues Modbus traffic itself.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/lumberbarons/wiretap/internal/scan"
)

func main() {
	app := &cli.App{
		Name:  "scanner",
		Usage: "Discover live hosts and open Modbus-TCP ports in a CIDR range",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "cidr", Required: true, Usage: "CIDR range to scan, e.g. 192.168.1.0/24"},
			&cli.IntFlag{Name: "port", Value: 502, Usage: "TCP port to probe on hosts that answer a ping"},
			&cli.DurationFlag{Name: "ping-timeout", Value: time.Second},
			&cli.DurationFlag{Name: "dial-timeout", Value: time.Second},
			&cli.IntFlag{Name: "concurrency", Value: 32},
			&cli.StringFlag{Name: "report", Value: "scan_report.json", Usage: "Path to write the summarized JSON report"},
		},
		Action: runScan,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runScan(c *cli.Context) error {
	hosts, err := scan.Hosts(c.String("cidr"))
	if err != nil {
		return fmt.Errorf("invalid CIDR: %w", err)
	}

	cfg := scan.Config{
		Port:        c.Int("port"),
		PingTimeout: c.Duration("ping-timeout"),
		DialTimeout: c.Duration("dial-timeout"),
		Concurrency: c.Int("concurrency"),
	}

	enc := json.NewEncoder(os.Stdout)
	var results []scan.Result

	scan.Run(hosts, cfg, func(r scan.Result) {
		results = append(results, r)
		enc.Encode(r)
	})

	sort.Slice(results, func(i, j int) bool {
		return results[i].Address.Less(results[j].Address)
	})

	reportPath := c.String("report")
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(reportPath, data, 0o644)
}
