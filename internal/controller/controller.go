// Package controller wires the wiretap pipeline together: one
// Fetcher/Framer per configured serial port, a shared Decoder, the
// atomically-published device Mapping, the Raw/Measure Stores, the live
// status files, and the config reload watcher. It is the Controller
// component of SPEC_FULL.md §4.5.
package controller

import (
	"context"
	"encoding/hex"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lumberbarons/wiretap/internal/config"
	"github.com/lumberbarons/wiretap/internal/livestatus"
	"github.com/lumberbarons/wiretap/internal/store"
	"github.com/lumberbarons/wiretap/internal/wiretap"
)

// Config configures a Controller. All paths are required except
// StatusDir, which disables live-status mirroring when empty.
type Config struct {
	Ports    []string
	BaudRate int
	// ClearInterval is passed to every port's Framer; 0 uses the
	// Framer's own default (300s).
	ClearInterval time.Duration

	SiteDevicesPath string
	TemplatesPath   string

	RawStorePath     string
	MeasureStorePath string
	StatusDir        string

	// ReloadPoll is how often the Controller checks config file mtimes;
	// defaults to 5s. The fsnotify watch is a backstop on top of this,
	// not a replacement for it.
	ReloadPoll time.Duration

	Logger *log.Logger
}

func (c *Config) setDefaults() {
	if c.ReloadPoll <= 0 {
		c.ReloadPoll = 5 * time.Second
	}
}

type portPipeline struct {
	port string
	// fetcher is swapped out from the pump goroutine on an OnWatchdog
	// restart while Run's shutdown path reads it concurrently to stop
	// it; atomic.Pointer makes both sides safe without a mutex.
	fetcher atomic.Pointer[wiretap.Fetcher]
	framer  *wiretap.Framer
}

// Controller owns the whole running wiretap: one pipeline per port plus
// the shared sinks and reload machinery.
type Controller struct {
	cfg Config

	mapping atomic.Pointer[wiretap.Mapping]
	decoder *wiretap.Decoder

	rawStore     *store.RawStore
	measureStore *store.MeasureStore
	status       *livestatus.Status

	pipelines []*portPipeline

	rawQueue     chan wiretap.Pair
	measureQueue chan wiretap.Measure

	siteMtime, templatesMtime time.Time

	wg sync.WaitGroup
}

// New builds a Controller: opens the stores, loads the initial mapping,
// and constructs (but does not start) one Fetcher/Framer per port.
func New(cfg Config) (*Controller, error) {
	cfg.setDefaults()

	rawStore, err := store.OpenRawStore(cfg.RawStorePath)
	if err != nil {
		return nil, err
	}
	measureStore, err := store.OpenMeasureStore(cfg.MeasureStorePath)
	if err != nil {
		return nil, err
	}

	var status *livestatus.Status
	if cfg.StatusDir != "" {
		status = livestatus.New(cfg.StatusDir)
	}

	c := &Controller{
		cfg:          cfg,
		decoder:      wiretap.NewDecoder(),
		rawStore:     rawStore,
		measureStore: measureStore,
		status:       status,
		rawQueue:     make(chan wiretap.Pair, 4096),
		measureQueue: make(chan wiretap.Measure, 4096),
	}

	c.reload()

	for _, port := range cfg.Ports {
		fetcher, err := wiretap.NewFetcher(wiretap.FetcherConfig{
			Port:     port,
			BaudRate: cfg.BaudRate,
			Logger:   cfg.Logger,
		})
		if err != nil {
			c.logf("modbus wiretap: skipping port %s: %v", port, err)
			continue
		}
		framer := wiretap.NewFramer(port, cfg.ClearInterval)
		framer.Logger = cfg.Logger
		framer.OnWatchdog = func() {
			newFetcher, err := wiretap.NewFetcher(wiretap.FetcherConfig{
				Port:     port,
				BaudRate: cfg.BaudRate,
				Logger:   cfg.Logger,
			})
			if err != nil {
				c.logf("modbus wiretap: failed to restart fetcher for %s after watchdog: %v", port, err)
				return
			}
			newFetcher.Start()
			for _, p := range c.pipelines {
				if p.port == port {
					old := p.fetcher.Swap(newFetcher)
					old.Stop()
				}
			}
		}

		pipeline := &portPipeline{port: port, framer: framer}
		pipeline.fetcher.Store(fetcher)
		c.pipelines = append(c.pipelines, pipeline)
	}

	return c, nil
}

// Run starts every pipeline and the sink/reload loops, blocking until
// ctx is cancelled. On return, it has flushed pending work and closed
// the stores.
func (c *Controller) Run(ctx context.Context) error {
	for _, p := range c.pipelines {
		p.fetcher.Load().Start()
	}

	c.wg.Add(1)
	go func() { defer c.wg.Done(); c.rawSinkLoop(ctx) }()

	c.wg.Add(1)
	go func() { defer c.wg.Done(); c.measureSinkLoop(ctx) }()

	c.wg.Add(1)
	go func() { defer c.wg.Done(); c.reloadLoop(ctx) }()

	for _, p := range c.pipelines {
		c.wg.Add(1)
		go func(p *portPipeline) { defer c.wg.Done(); c.pumpLoop(ctx, p) }(p)
	}

	<-ctx.Done()

	for _, p := range c.pipelines {
		p.fetcher.Load().Stop()
	}
	c.wg.Wait()

	close(c.rawQueue)
	close(c.measureQueue)
	c.drainRemaining()

	c.rawStore.Close()
	c.measureStore.Close()
	return nil
}

// pumpLoop repeatedly drains one port's Fetcher, feeds the bytes to its
// Framer, and forwards any resulting pairs onward for decoding and
// storage. It polls on a short tick rather than blocking, since Drain
// never blocks.
func (c *Controller) pumpLoop(ctx context.Context, p *portPipeline) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tokens := p.fetcher.Load().Drain()
			if len(tokens) == 0 {
				continue
			}
			bytes := make([]byte, 0, len(tokens))
			for _, tok := range tokens {
				b, err := hex.DecodeString(tok)
				if err != nil || len(b) != 1 {
					continue
				}
				bytes = append(bytes, b[0])
			}
			pairs := p.framer.Feed(bytes)

			if c.status != nil {
				c.status.UpdateSerialStream(p.port, p.framer.SerialWindow())
			}

			for _, pair := range pairs {
				select {
				case c.rawQueue <- pair:
				default:
				}
				if c.status != nil {
					c.status.RecordPair(livestatus.FoundPair{
						UUID:      pair.UUID(),
						Port:      pair.Port,
						DeviceID:  int(pair.Slave),
						Request:   pair.Request.CommaHex(),
						Response:  pair.Response.CommaHex(),
						Timestamp: pair.Timestamp,
					})
					c.status.IncrementCount(pair.Port, pair.Slave)
				}

				measures := c.decoder.Decode(pair, c.mapping.Load())
				for _, m := range measures {
					select {
					case c.measureQueue <- m:
					default:
					}
				}
			}
		}
	}
}

func (c *Controller) rawSinkLoop(ctx context.Context) {
	for {
		select {
		case pair, ok := <-c.rawQueue:
			if !ok {
				return
			}
			if err := c.rawStore.Insert(pair); err != nil {
				c.logf("modbus wiretap: raw store insert failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) measureSinkLoop(ctx context.Context) {
	for {
		select {
		case m, ok := <-c.measureQueue:
			if !ok {
				return
			}
			if err := c.measureStore.Insert(m); err != nil {
				c.logf("modbus wiretap: measure store insert failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// drainRemaining flushes whatever is left in the queues after their
// producers have stopped, so a clean shutdown doesn't lose buffered
// work (the channels are closed by Run right before this is called).
func (c *Controller) drainRemaining() {
	for pair := range c.rawQueue {
		c.rawStore.Insert(pair)
	}
	for m := range c.measureQueue {
		c.measureStore.Insert(m)
	}
}

// reloadLoop checks config file mtimes on a fixed poll, backstopped by
// an fsnotify watch that wakes the same check up early.
func (c *Controller) reloadLoop(ctx context.Context) {
	watcher, err := config.NewWatcher(c.cfg.SiteDevicesPath, c.cfg.TemplatesPath)
	var events chan struct{}
	if err != nil {
		c.logf("modbus wiretap: config watcher unavailable, falling back to polling only: %v", err)
	} else {
		events = make(chan struct{}, 1)
		go watcher.Run(func() {
			select {
			case events <- struct{}{}:
			default:
			}
		})
		defer watcher.Stop()
	}

	ticker := time.NewTicker(c.cfg.ReloadPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.maybeReload()
		case <-events:
			c.maybeReload()
		}
	}
}

func (c *Controller) maybeReload() {
	siteMtime := config.Mtime(c.cfg.SiteDevicesPath)
	templatesMtime := config.Mtime(c.cfg.TemplatesPath)
	if siteMtime.Equal(c.siteMtime) && templatesMtime.Equal(c.templatesMtime) {
		return
	}
	c.siteMtime, c.templatesMtime = siteMtime, templatesMtime
	c.reload()
}

// reload builds a fresh Mapping off-line and publishes it atomically, so
// Decoders running concurrently never observe a half-built map. A
// missing or malformed config file keeps the previous mapping.
func (c *Controller) reload() {
	devices, err := config.LoadSiteDevices(c.cfg.SiteDevicesPath)
	if err != nil {
		c.logf("modbus wiretap: keeping previous mapping, failed to load site devices: %v", err)
		return
	}
	templates, err := config.LoadTemplates(c.cfg.TemplatesPath)
	if err != nil {
		c.logf("modbus wiretap: keeping previous mapping, failed to load templates: %v", err)
		return
	}
	mapping := config.BuildMapping(devices, templates, c.cfg.Logger)
	c.mapping.Store(mapping)
}

func (c *Controller) logf(format string, args ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Printf(format, args...)
	}
}
