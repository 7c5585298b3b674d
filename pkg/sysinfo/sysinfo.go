package sysinfo

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Info describes the machine a benchmark session ran on. It is recorded with
// every session so that results from different hosts are not compared blindly.
type Info struct {
	Hostname           string  `json:"hostname"`
	OS                 string  `json:"os"`
	Platform           string  `json:"platform"`
	PlatformVersion    string  `json:"platform_version"`
	KernelVersion      string  `json:"kernel_version"`
	Arch               string  `json:"arch"`
	Virtualization     string  `json:"virtualization,omitempty"`
	VirtualizationRole string  `json:"virtualization_role,omitempty"`
	CPUVendor          string  `json:"cpu_vendor"`
	CPUModel           string  `json:"cpu_model"`
	CPUCores           int     `json:"cpu_cores"`
	CPUMhz             float64 `json:"cpu_mhz"`
	MemoryTotalGB      float64 `json:"memory_total_gb"`
}

// Collect gathers host, CPU and memory information.
func Collect(ctx context.Context) (*Info, error) {
	hostInfo, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading host info: %w", err)
	}

	info := &Info{
		Hostname:           hostInfo.Hostname,
		OS:                 hostInfo.OS,
		Platform:           hostInfo.Platform,
		PlatformVersion:    hostInfo.PlatformVersion,
		KernelVersion:      hostInfo.KernelVersion,
		Arch:               runtime.GOARCH,
		Virtualization:     hostInfo.VirtualizationSystem,
		VirtualizationRole: hostInfo.VirtualizationRole,
	}

	cpus, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading cpu info: %w", err)
	}

	if len(cpus) > 0 {
		info.CPUVendor = cpus[0].VendorID
		info.CPUModel = cpus[0].ModelName
		info.CPUMhz = cpus[0].Mhz
	}

	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("counting cpu cores: %w", err)
	}

	info.CPUCores = cores

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading memory info: %w", err)
	}

	info.MemoryTotalGB = float64(vm.Total) / (1 << 30)

	return info, nil
}
