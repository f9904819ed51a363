// Command tcpprobe dials a Modbus-TCP slave and walks an operator-supplied
// list of registers for one function code, writing progress and results to
// a JSON file as it goes. It is a bounded, one-shot active probe, not a
// Modbus master: it never polls continuously and never issues writes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/lumberbarons/wiretap/internal/mbclient"
)

// result is the tcp_probe.json document. Function-code results are kept
// as a raw map so field names can be the function code itself ("3", "4",
// ...), matching the original file layout.
type result struct {
	Status  string                     `json:"status"`
	Device  int                        `json:"device"`
	Results map[string]functionResults `json:"-"`
}

type functionResults struct {
	RegistersList []int           `json:"registersList"`
	Values        map[string]int  `json:"-"`
}

func (r *result) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"status": r.Status,
		"device": r.Device,
	}
	for fc, fr := range r.Results {
		entry := map[string]any{"registersList": fr.RegistersList}
		for reg, val := range fr.Values {
			entry[reg] = val
		}
		out[fc] = entry
	}
	return json.Marshal(out)
}

func main() {
	app := &cli.App{
		Name:  "tcpprobe",
		Usage: "Probe a Modbus-TCP slave's registers and record results to tcp_probe.json",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Required: true, Usage: "Modbus-TCP host"},
			&cli.IntFlag{Name: "port", Value: 502, Usage: "Modbus-TCP port"},
			&cli.IntFlag{Name: "device", Required: true, Usage: "Slave/unit ID"},
			&cli.IntFlag{Name: "function", Required: true, Usage: "Function code: 1, 2, 3, or 4"},
			&cli.StringFlag{Name: "registers", Required: true, Usage: "Comma-separated register addresses, e.g. 0,1,2,40001"},
			&cli.StringFlag{Name: "out", Value: "tcp_probe.json", Usage: "Path to the result JSON file"},
			&cli.DurationFlag{Name: "timeout", Value: 2 * time.Second, Usage: "Connect/read timeout"},
		},
		Action: runProbe,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runProbe(c *cli.Context) error {
	addr := c.String("addr")
	port := c.Int("port")
	device := c.Int("device")
	function := c.Int("function")
	outPath := c.String("out")

	registers, err := parseRegisters(c.String("registers"))
	if err != nil {
		return err
	}
	if function < 1 || function > 4 {
		return fmt.Errorf("unsupported function code %d (must be 1, 2, 3, or 4)", function)
	}

	// Always start from a fresh, truncated file: a stale run's results
	// never bleed into a new one.
	r := &result{Status: "Started", Device: device, Results: map[string]functionResults{}}
	if err := writeResult(outPath, r); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	handler := mbclient.NewTCPClientHandler(fmt.Sprintf("%s:%d", addr, port))
	handler.Timeout = c.Duration("timeout")
	handler.SlaveID = byte(device)
	if err := handler.Connect(); err != nil {
		r.Status = "Failed"
		if werr := writeResult(outPath, r); werr != nil {
			return werr
		}
		return fmt.Errorf("connecting to %s:%d: %w", addr, port, err)
	}
	defer handler.Close()
	client := mbclient.NewClient(handler)

	fc := strconv.Itoa(function)
	fr := functionResults{RegistersList: dedupeSorted(registers), Values: map[string]int{}}
	r.Results[fc] = fr

	for i, reg := range registers {
		select {
		case <-ctx.Done():
			r.Status = "Failed"
			return writeResult(outPath, r)
		default:
		}

		r.Status = fmt.Sprintf("%.2f", float64(i)/float64(len(registers))*100)

		readOne(ctx, client, function, reg, fr.Values)
		// Opportunistically read the adjacent register too, the way the
		// original probe does for function codes 2-4, so a second pass
		// over the same list doesn't re-dial for data already nearby.
		if function != 1 && reg != 255 {
			next := reg + 1
			if _, already := fr.Values[strconv.Itoa(next)]; !already {
				readOne(ctx, client, function, next, fr.Values)
			}
		}

		r.Results[fc] = fr
		if err := writeResult(outPath, r); err != nil {
			return err
		}
	}

	r.Status = "Finished"
	return writeResult(outPath, r)
}

func readOne(ctx context.Context, client mbclient.Client, function, register int, values map[string]int) {
	addr := uint16(register)
	var (
		data []byte
		err  error
	)
	switch function {
	case 1:
		data, err = client.ReadCoils(ctx, addr, 1)
	case 2:
		data, err = client.ReadDiscreteInputs(ctx, addr, 1)
	case 3:
		data, err = client.ReadHoldingRegisters(ctx, addr, 1)
	case 4:
		data, err = client.ReadInputRegisters(ctx, addr, 1)
	}
	if err != nil || len(data) == 0 {
		return
	}

	key := strconv.Itoa(register)
	if function == 1 {
		values[key] = int(data[0] & 0x01)
		return
	}
	if len(data) < 2 {
		return
	}
	values[key] = int(data[0])<<8 | int(data[1])
}

func parseRegisters(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid register %q: %w", p, err)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no registers given")
	}
	return out, nil
}

func dedupeSorted(regs []int) []int {
	seen := make(map[int]bool, len(regs))
	out := make([]int, 0, len(regs))
	for _, r := range regs {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	sort.Ints(out)
	return out
}

func writeResult(path string, r *result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
