package system

import (
	"context"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

type Memory struct {
	Total       uint64
	Used        uint64
	Available   uint64
	UsedPercent float64
	SwapTotal   uint64
	SwapUsed    uint64
}

type Disk struct {
	Path        string
	Total       uint64
	Used        uint64
	Free        uint64
	UsedPercent float64
}

type Host struct {
	Hostname        string
	Platform        string
	PlatformVersion string
	KernelVersion   string
	Arch            string
	Uptime          time.Duration
	BootTime        time.Time
}

type CPU struct {
	Percent  float64
	Logical  int
	Physical int
	Load1    float64
	Load5    float64
	Load15   float64
}

type Process struct {
	PID           int32
	Name          string
	MemoryPercent float32
	RSS           uint64
}

// Probe reads host statistics.
type Probe interface {
	Memory(ctx context.Context) (Memory, error)
	Disks(ctx context.Context) ([]Disk, error)
	Host(ctx context.Context) (Host, error)
	CPU(ctx context.Context) (CPU, error)
	TopProcesses(ctx context.Context, n int) ([]Process, error)
}

// HostProbe reads statistics from the running machine via gopsutil.
type HostProbe struct {
	// SampleInterval is how long CPU usage is sampled for.
	SampleInterval time.Duration
}

func (HostProbe) Memory(ctx context.Context) (Memory, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Memory{}, err
	}

	out := Memory{Total: vm.Total, Used: vm.Used, Available: vm.Available, UsedPercent: vm.UsedPercent}
	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil {
		out.SwapTotal = swap.Total
		out.SwapUsed = swap.Used
	}

	return out, nil
}

func (HostProbe) Disks(ctx context.Context) ([]Disk, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}

	disks := make([]Disk, 0, len(partitions))
	seen := make(map[string]bool)
	for _, partition := range partitions {
		if seen[partition.Mountpoint] {
			continue
		}
		seen[partition.Mountpoint] = true

		usage, err := disk.UsageWithContext(ctx, partition.Mountpoint)
		if err != nil || usage.Total == 0 {
			continue
		}
		disks = append(disks, Disk{
			Path:        usage.Path,
			Total:       usage.Total,
			Used:        usage.Used,
			Free:        usage.Free,
			UsedPercent: usage.UsedPercent,
		})
	}
	if len(disks) == 0 {
		usage, err := disk.UsageWithContext(ctx, "/")
		if err != nil {
			return nil, err
		}
		disks = append(disks, Disk{Path: usage.Path, Total: usage.Total, Used: usage.Used, Free: usage.Free, UsedPercent: usage.UsedPercent})
	}

	return disks, nil
}

func (HostProbe) Host(ctx context.Context) (Host, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return Host{}, err
	}

	return Host{
		Hostname:        info.Hostname,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		Arch:            info.KernelArch,
		Uptime:          time.Duration(info.Uptime) * time.Second,
		BootTime:        time.Unix(int64(info.BootTime), 0),
	}, nil
}

func (p HostProbe) CPU(ctx context.Context) (CPU, error) {
	interval := p.SampleInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}

	percents, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return CPU{}, err
	}

	out := CPU{}
	if len(percents) > 0 {
		out.Percent = percents[0]
	}
	out.Logical, _ = cpu.CountsWithContext(ctx, true)
	out.Physical, _ = cpu.CountsWithContext(ctx, false)
	if avg, err := load.AvgWithContext(ctx); err == nil {
		out.Load1, out.Load5, out.Load15 = avg.Load1, avg.Load5, avg.Load15
	}

	return out, nil
}

func (HostProbe) TopProcesses(ctx context.Context, n int) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		info, err := p.MemoryInfoWithContext(ctx)
		if err != nil || info == nil {
			continue
		}
		percent, _ := p.MemoryPercentWithContext(ctx)
		out = append(out, Process{PID: p.Pid, Name: name, MemoryPercent: percent, RSS: info.RSS})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RSS > out[j].RSS })
	if n > 0 && len(out) > n {
		out = out[:n]
	}

	return out, nil
}
