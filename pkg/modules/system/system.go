// Package system reports host health: CPU, memory, storage, uptime, top
// processes and the assistant's own Go runtime.
package system

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"specter/pkg/agent/types"
	"specter/pkg/modules/match"
)

const ID = "system"

type threshold struct {
	warning  float64
	critical float64
}

var (
	cpuLimits    = threshold{warning: 75, critical: 90}
	memoryLimits = threshold{warning: 80, critical: 95}
	diskLimits   = threshold{warning: 85, critical: 95}
)

// actions are tried in order; the first whose phrases occur wins.
var actions = []struct {
	name    string
	phrases []string
}{
	{name: "runtime", phrases: []string{"go runtime", "runtime stats", "goroutines", "your memory", "assistant memory"}},
	{name: "processes", phrases: []string{"processes", "top processes", "what's using", "what is using", "running programs"}},
	{name: "memory", phrases: []string{"ram", "memory usage", "how much memory", "free memory", "swap"}},
	{name: "disk", phrases: []string{"disk", "disks", "storage", "disk space", "free space", "drive space"}},
	{name: "uptime", phrases: []string{"uptime", "been running", "been on", "last boot", "last reboot"}},
	{name: "cpu", phrases: []string{"cpu", "processor", "load average"}},
	{name: "host", phrases: []string{"system info", "system information", "computer info", "operating system", "hostname", "about this computer", "what os"}},
	{name: "status", phrases: []string{"system status", "system health", "performance", "computer stats", "how is my computer", "how's my computer", "health check"}},
}

type Module struct {
	probe   Probe
	started time.Time
	now     func() time.Time
	log     *slog.Logger
}

// New builds the module. A nil probe reads the local machine.
func New(probe Probe) *Module {
	if probe == nil {
		probe = HostProbe{}
	}

	return &Module{
		probe:   probe,
		started: time.Now(),
		now:     time.Now,
		log:     slog.Default().With("component", "modules.system"),
	}
}

func (m *Module) ID() string          { return ID }
func (m *Module) DisplayName() string { return "System monitor" }
func (m *Module) Available() bool     { return true }

func (m *Module) Help() []string {
	return []string{
		"system status",
		"memory usage / disk space / cpu usage",
		"uptime / system info",
		"top processes",
		"go runtime stats",
	}
}

func (m *Module) Match(utt types.Utterance, _ types.Snapshot) types.Match {
	text := utt.Normalized()
	for _, action := range actions {
		if match.HasAny(text, action.phrases...) {
			return types.Match{
				ModuleID:   ID,
				Confidence: 0.85,
				Utterance:  utt,
				Slots:      map[string]string{"action": action.name},
			}
		}
	}

	return types.Match{}
}

func (m *Module) Execute(ctx context.Context, mt types.Match, _ types.Snapshot) types.Result {
	var (
		text string
		err  error
	)

	action := mt.Slot("action")
	switch action {
	case "runtime":
		text = m.runtimeStats()
	case "processes":
		text, err = m.processes(ctx)
	case "memory":
		text, err = m.memory(ctx)
	case "disk":
		text, err = m.disks(ctx)
	case "uptime":
		text, err = m.uptime(ctx)
	case "cpu":
		text, err = m.cpu(ctx)
	case "host":
		text, err = m.host(ctx)
	default:
		action = "status"
		text, err = m.status(ctx)
	}
	if err != nil {
		m.log.Warn("system probe failed", "action", action, "error", err)
		return types.Failed(err, "I couldn't read the system information right now.")
	}

	return types.Result{Status: types.StatusSuccess, Payload: text, Data: map[string]string{"action": action}}
}

func (m *Module) status(ctx context.Context) (string, error) {
	c, err := m.probe.CPU(ctx)
	if err != nil {
		return "", err
	}
	mem, err := m.probe.Memory(ctx)
	if err != nil {
		return "", err
	}

	parts := []string{
		fmt.Sprintf("CPU %.1f%% %s", c.Percent, cpuLimits.indicator(c.Percent)),
		fmt.Sprintf("RAM %.1f%% %s", mem.UsedPercent, memoryLimits.indicator(mem.UsedPercent)),
		fmt.Sprintf("%s available", humanize.Bytes(mem.Available)),
	}
	if disks, err := m.probe.Disks(ctx); err == nil && len(disks) > 0 {
		parts = append(parts, fmt.Sprintf("Disk %s %.1f%% %s", disks[0].Path, disks[0].UsedPercent, diskLimits.indicator(disks[0].UsedPercent)))
	}

	return strings.Join(parts, " | "), nil
}

func (m *Module) memory(ctx context.Context) (string, error) {
	mem, err := m.probe.Memory(ctx)
	if err != nil {
		return "", err
	}

	text := fmt.Sprintf("Memory: %s of %s used (%.1f%%) %s, %s available.",
		humanize.Bytes(mem.Used), humanize.Bytes(mem.Total), mem.UsedPercent,
		memoryLimits.indicator(mem.UsedPercent), humanize.Bytes(mem.Available))
	if mem.SwapTotal > 0 {
		text += fmt.Sprintf(" Swap: %s of %s used.", humanize.Bytes(mem.SwapUsed), humanize.Bytes(mem.SwapTotal))
	}

	return text, nil
}

func (m *Module) disks(ctx context.Context) (string, error) {
	disks, err := m.probe.Disks(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Storage:")
	for _, d := range disks {
		fmt.Fprintf(&b, "\n%s: %s of %s used (%.1f%%) %s, %s free", d.Path,
			humanize.Bytes(d.Used), humanize.Bytes(d.Total), d.UsedPercent,
			diskLimits.indicator(d.UsedPercent), humanize.Bytes(d.Free))
	}

	return b.String(), nil
}

func (m *Module) uptime(ctx context.Context) (string, error) {
	h, err := m.probe.Host(ctx)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("Up for %s (since %s).", formatUptime(h.Uptime), h.BootTime.Format("Mon Jan 2 15:04")), nil
}

func (m *Module) cpu(ctx context.Context) (string, error) {
	c, err := m.probe.CPU(ctx)
	if err != nil {
		return "", err
	}

	text := fmt.Sprintf("CPU usage %.1f%% %s across %d cores.", c.Percent, cpuLimits.indicator(c.Percent), c.Logical)
	if c.Load1 > 0 || c.Load5 > 0 || c.Load15 > 0 {
		text += fmt.Sprintf(" Load average %.2f, %.2f, %.2f.", c.Load1, c.Load5, c.Load15)
	}

	return text, nil
}

func (m *Module) host(ctx context.Context) (string, error) {
	h, err := m.probe.Host(ctx)
	if err != nil {
		return "", err
	}

	lines := []string{
		"Computer: " + h.Hostname,
		fmt.Sprintf("OS: %s %s (kernel %s, %s)", h.Platform, h.PlatformVersion, h.KernelVersion, h.Arch),
	}
	if c, err := m.probe.CPU(ctx); err == nil {
		lines = append(lines, fmt.Sprintf("CPU: %d logical cores, %d physical", c.Logical, c.Physical))
	}
	if mem, err := m.probe.Memory(ctx); err == nil {
		lines = append(lines, "Memory: "+humanize.Bytes(mem.Total))
	}
	lines = append(lines, "Uptime: "+formatUptime(h.Uptime))

	return strings.Join(lines, "\n"), nil
}

func (m *Module) processes(ctx context.Context) (string, error) {
	procs, err := m.probe.TopProcesses(ctx, 5)
	if err != nil {
		return "", err
	}
	if len(procs) == 0 {
		return "I couldn't see any running processes.", nil
	}

	var b strings.Builder
	b.WriteString("Top processes by memory:")
	for i, p := range procs {
		fmt.Fprintf(&b, "\n%d. %s (pid %d) %s, %.1f%%", i+1, p.Name, p.PID, humanize.Bytes(p.RSS), p.MemoryPercent)
	}

	return b.String(), nil
}

func (m *Module) runtimeStats() string {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	return fmt.Sprintf("Assistant runtime: %s, %d goroutines, %s heap in use, %d GC cycles, up %s.",
		runtime.Version(), runtime.NumGoroutine(), humanize.Bytes(stats.HeapInuse), stats.NumGC,
		formatUptime(m.now().Sub(m.started)))
}

func (t threshold) indicator(value float64) string {
	switch {
	case value >= t.critical:
		return "[CRITICAL]"
	case value >= t.warning:
		return "[WARNING]"
	default:
		return "[OK]"
	}
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
