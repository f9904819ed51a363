package wiretap

import (
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
)

// FetcherConfig configures one serial port tap.
type FetcherConfig struct {
	Port string
	// BaudRate defaults to 9600 when zero.
	BaudRate int
	// ReadTimeout defaults to 1s when zero.
	ReadTimeout time.Duration
	// OpenRetries defaults to 5 when zero; OpenRetryDelay defaults to 2s.
	OpenRetries    int
	OpenRetryDelay time.Duration
	Logger         *log.Logger
}

func (c *FetcherConfig) setDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = 9600
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = time.Second
	}
	if c.OpenRetries == 0 {
		c.OpenRetries = 5
	}
	if c.OpenRetryDelay == 0 {
		c.OpenRetryDelay = 2 * time.Second
	}
}

// Fetcher owns one serial port handle, reading bytes with a short timeout
// and enqueueing their hex-encoded form onto an unbounded queue for a
// Framer to drain. It is the leaf I/O component of the wiretap pipeline.
type Fetcher struct {
	cfg FetcherConfig

	mu      sync.Mutex
	queue   []string
	port    serial.Port
	stop    chan struct{}
	done    chan struct{}
	stopped bool
}

// NewFetcher opens the configured serial port, retrying on failure, and
// returns a Fetcher ready to Start. Open failure after all retries is
// fatal for this port.
func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	cfg.setDefaults()
	mode := &serial.Mode{BaudRate: cfg.BaudRate}

	var port serial.Port
	var err error
	for attempt := 0; attempt <= cfg.OpenRetries; attempt++ {
		port, err = serial.Open(cfg.Port, mode)
		if err == nil {
			break
		}
		if attempt < cfg.OpenRetries {
			time.Sleep(cfg.OpenRetryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s after %d retries: %w", cfg.Port, cfg.OpenRetries, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("setting read timeout on %s: %w", cfg.Port, err)
	}

	return &Fetcher{
		cfg:  cfg,
		port: port,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}, nil
}

// Start launches the read loop in its own goroutine. It returns
// immediately; call Stop to shut the loop down.
func (f *Fetcher) Start() {
	go f.run()
}

func (f *Fetcher) run() {
	defer close(f.done)
	defer f.port.Close()

	buf := make([]byte, 256)
	for {
		select {
		case <-f.stop:
			return
		default:
		}

		n, err := f.port.Read(buf)
		if err != nil {
			f.logf("modbus wiretap: read error on %s: %v", f.cfg.Port, err)
			continue
		}
		if n == 0 {
			continue
		}

		f.mu.Lock()
		for i := 0; i < n; i++ {
			f.queue = append(f.queue, hex.EncodeToString(buf[i:i+1]))
		}
		f.mu.Unlock()
	}
}

// Drain atomically removes and returns every hex-byte token queued since
// the last Drain call. It never blocks.
func (f *Fetcher) Drain() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil
	}
	out := f.queue
	f.queue = nil
	return out
}

// Stop signals the read loop to exit and waits for the serial handle to
// close. Safe to call more than once.
func (f *Fetcher) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	f.mu.Unlock()

	close(f.stop)
	<-f.done
}

func (f *Fetcher) logf(format string, args ...any) {
	if f.cfg.Logger != nil {
		f.cfg.Logger.Printf(format, args...)
	}
}
