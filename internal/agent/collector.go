// Package agent implements the metric collection subsystem for healdash.
// It uses gopsutil for cross-platform host telemetry.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"

	"github.com/vesaa/healdash/internal/models"
)

const mb = 1024 * 1024

// ErrNoAddress is returned when the host has no usable IPv4 address to report from.
var ErrNoAddress = errors.New("agent: no non-loopback IPv4 address found")

// Collector gathers host metrics. Network throughput is derived from the
// counter delta between two calls, so the first Collect reports zero.
type Collector struct {
	// CPUSample is how long cpu.Percent measures; zero compares against the previous call.
	CPUSample time.Duration

	mu          sync.Mutex
	prevRx      uint64
	prevTx      uint64
	prevTime    time.Time
	initialized bool
}

// NewCollector creates a ready-to-use Collector.
func NewCollector() *Collector {
	return &Collector{CPUSample: 500 * time.Millisecond}
}

// Collect gathers the current host report. Individual probes that fail on
// this platform leave their fields zero.
func (c *Collector) Collect(ctx context.Context) (models.AgentReport, error) {
	r := models.AgentReport{
		IP:          localIP(),
		OS:          detailedOS(ctx),
		CollectedAt: time.Now().UTC(),
	}
	if h, err := os.Hostname(); err == nil {
		r.Hostname = h
	}
	if r.IP == "" {
		return r, ErrNoAddress
	}

	// CPU
	if pcts, err := cpu.PercentWithContext(ctx, c.CPUSample, false); err == nil && len(pcts) > 0 {
		r.CPUUsage = round1(pcts[0])
	}

	// Memory
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		r.RAMUsage = float64(vm.Used / mb)
		r.RAMTotal = float64(vm.Total / mb)
	}

	r.Drives = drives(ctx)

	tcp, udp := connectionCounts(ctx)
	r.TCPConnections = tcp
	r.UDPConnections = udp

	r.NetworkDownload, r.NetworkUpload = c.netThroughput(ctx)
	return r, ctx.Err()
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// detailedOS returns a descriptive OS version string, or runtime.GOOS as fallback.
func detailedOS(ctx context.Context) string {
	info, err := host.InfoWithContext(ctx)
	if err == nil && info.Platform != "" {
		if info.PlatformVersion != "" {
			return fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion) // e.g., "ubuntu 24.04"
		}
		return info.Platform
	}
	return runtime.GOOS
}

// localIP returns the first non-loopback IPv4 address.
func localIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && ip.To4() != nil && !ip.IsLoopback() {
				return ip.String()
			}
		}
	}
	return ""
}

// drives reports every physical partition once, sorted by mountpoint.
func drives(ctx context.Context) []models.DriveInfo {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil
	}
	seen := make(map[string]bool, len(partitions))
	var out []models.DriveInfo
	for _, p := range partitions {
		if seen[p.Device] {
			continue
		}
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil || usage.Total == 0 {
			continue
		}
		seen[p.Device] = true
		out = append(out, driveInfo(p.Mountpoint, usage.Total, usage.Used))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// driveInfo converts byte counts into a consistent DriveInfo in MB.
func driveInfo(name string, totalBytes, usedBytes uint64) models.DriveInfo {
	d := models.DriveInfo{Name: name, Total: float64(totalBytes / mb)}
	d.SetUsed(float64(usedBytes / mb))
	return d
}

// connectionCounts returns (tcpCount, udpCount) from the OS connection table.
func connectionCounts(ctx context.Context) (int, int) {
	// "tcp" returns both tcp4 and tcp6; same for udp.
	tcpConns, err := psnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		tcpConns = nil
	}
	udpConns, err := psnet.ConnectionsWithContext(ctx, "udp")
	if err != nil {
		udpConns = nil
	}
	return len(tcpConns), len(udpConns)
}

// netThroughput computes KB/s received and sent since the last call.
func (c *Collector) netThroughput(ctx context.Context) (rxKBps, txKBps float64) {
	stats, err := psnet.IOCountersWithContext(ctx, false) // aggregate all interfaces
	if err != nil || len(stats) == 0 {
		return 0, 0
	}
	return c.observe(time.Now(), stats[0].BytesRecv, stats[0].BytesSent)
}

func (c *Collector) observe(now time.Time, curRx, curTx uint64) (rxKBps, txKBps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		dt := now.Sub(c.prevTime).Seconds()
		rxKBps = rate(c.prevRx, curRx, dt)
		txKBps = rate(c.prevTx, curTx, dt)
	}

	c.prevRx = curRx
	c.prevTx = curTx
	c.prevTime = now
	c.initialized = true
	return rxKBps, txKBps
}

// rate is the KB/s between two byte counters; a counter reset yields zero.
func rate(prev, cur uint64, seconds float64) float64 {
	if seconds <= 0 || cur < prev {
		return 0
	}
	return round1(float64(cur-prev) / 1024 / seconds)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
