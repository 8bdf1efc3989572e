package reporter

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"

	"github.com/EternisAI/fleetwatch/internal/events"
)

// Collector samples the local machine.
type Collector interface {
	Stats(ctx context.Context) (events.StatsPayload, error)
	Uptime(ctx context.Context) (int64, error)
}

// HostCollector reads host metrics through gopsutil.
type HostCollector struct {
	DiskPath string
}

func (h HostCollector) Stats(ctx context.Context) (events.StatsPayload, error) {
	var stats events.StatsPayload

	cpus, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return stats, fmt.Errorf("read cpu: %w", err)
	}
	if len(cpus) > 0 {
		stats.CPUPercent = cpus[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return stats, fmt.Errorf("read memory: %w", err)
	}
	stats.MemoryPercent = vm.UsedPercent

	path := h.DiskPath
	if path == "" {
		path = "/"
	}
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return stats, fmt.Errorf("read disk %s: %w", path, err)
	}
	stats.DiskPercent = usage.UsedPercent

	ifaces, err := net.InterfacesWithContext(ctx)
	if err != nil {
		return stats, fmt.Errorf("read interfaces: %w", err)
	}
	stats.Interfaces = make(map[string]string, len(ifaces))
	for _, iface := range ifaces {
		if addr := firstIPv4(iface.Addrs); addr != "" {
			stats.Interfaces[iface.Name] = addr
		}
	}
	return stats, nil
}

func (h HostCollector) Uptime(ctx context.Context) (int64, error) {
	up, err := host.UptimeWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read uptime: %w", err)
	}
	return int64(up), nil
}

// firstIPv4 picks the first IPv4 address from CIDR strings like
// "10.0.0.5/24".
func firstIPv4(addrs net.InterfaceAddrList) string {
	for _, a := range addrs {
		s, _, _ := strings.Cut(a.Addr, "/")
		ip, err := netip.ParseAddr(s)
		if err == nil && ip.Is4() {
			return ip.String()
		}
	}
	return ""
}
