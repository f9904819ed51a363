// Package scan implements a read-only host/port discovery sweep over a
// CIDR range: it pings each address and, for hosts that answer, attempts
// a TCP dial to a target port. It never issues Modbus traffic itself.
package scan

import (
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// Result is one host's scan outcome.
type Result struct {
	Address   netip.Addr `json:"address"`
	Alive     bool       `json:"alive"`
	PortOpen  bool       `json:"portOpen"`
	RTTMillis float64    `json:"rttMillis"`
	Err       string     `json:"error,omitempty"`
}

// Config controls a scan run.
type Config struct {
	Port        int
	PingTimeout time.Duration
	DialTimeout time.Duration
	// Concurrency bounds how many hosts are probed at once; defaults to 32.
	Concurrency int
}

func (c *Config) setDefaults() {
	if c.Port == 0 {
		c.Port = 502
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 32
	}
}

// Hosts expands a CIDR range into every usable host address, skipping
// the network and broadcast addresses for ranges of 4 or more addresses.
func Hosts(cidr string) ([]netip.Addr, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, err
	}
	prefix = prefix.Masked()

	var addrs []netip.Addr
	addr := prefix.Addr()
	for prefix.Contains(addr) {
		addrs = append(addrs, addr)
		addr = addr.Next()
		if !addr.IsValid() {
			break
		}
	}
	if len(addrs) > 2 {
		addrs = addrs[1 : len(addrs)-1]
	}
	return addrs, nil
}

// Run scans every address in hosts, streaming each Result to onResult as
// it completes (results may arrive out of order). It blocks until every
// host has been probed.
func Run(hosts []netip.Addr, cfg Config, onResult func(Result)) {
	cfg.setDefaults()

	sem := make(chan struct{}, cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, addr := range hosts {
		wg.Add(1)
		sem <- struct{}{}
		go func(addr netip.Addr) {
			defer wg.Done()
			defer func() { <-sem }()
			res := probeHost(addr, cfg)
			mu.Lock()
			onResult(res)
			mu.Unlock()
		}(addr)
	}
	wg.Wait()
}

func probeHost(addr netip.Addr, cfg Config) Result {
	res := Result{Address: addr}

	pinger, err := probing.NewPinger(addr.String())
	if err != nil {
		res.Err = err.Error()
		return res
	}
	pinger.Count = 1
	pinger.Timeout = cfg.PingTimeout
	pinger.SetPrivileged(false)

	if err := pinger.Run(); err != nil {
		res.Err = err.Error()
		return res
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return res
	}
	res.Alive = true
	res.RTTMillis = float64(stats.AvgRtt) / float64(time.Millisecond)

	target := net.JoinHostPort(addr.String(), strconv.Itoa(cfg.Port))
	conn, err := net.DialTimeout("tcp", target, cfg.DialTimeout)
	if err != nil {
		return res
	}
	conn.Close()
	res.PortOpen = true
	return res
}
