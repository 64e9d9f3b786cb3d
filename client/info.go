package client

import (
	"time"

	"github.com/deftio/pocketdock"
	"github.com/deftio/pocketdock/client/connection"
)

// buildContainerInfo composes an Info snapshot from the engine's
// inspect, stats, and top responses. stats and top are nil when the
// container is not running.
func buildContainerInfo(name string, details connection.ContainerDetails, stats *connection.Stats, top *connection.TopResponse) pocketdock.ContainerInfo {
	info := pocketdock.ContainerInfo{
		ID:        details.ID,
		Name:      name,
		Status:    details.State.Status,
		Image:     details.Config.Image,
		CreatedAt: parseEngineTime(details.Created),
		IPAddress: details.NetworkSettings.IPAddress,
	}

	if started := parseEngineTime(details.State.StartedAt); !started.IsZero() {
		info.StartedAt = started
		if details.State.Running {
			info.Uptime = time.Since(started)
		}
	}

	if stats != nil {
		info.MemoryUsageBytes = int64(stats.MemoryStats.Usage)
		info.MemoryLimitBytes = int64(stats.MemoryStats.Limit)
		if stats.MemoryStats.Limit > 0 {
			info.MemoryPercent = round2(float64(stats.MemoryStats.Usage) / float64(stats.MemoryStats.Limit) * 100)
		}
		info.CPUPercent = computeCPUPercent(stats)
		info.Pids = stats.PidsStats.Current
	}

	if top != nil {
		info.Processes = make([]map[string]string, 0, len(top.Processes))
		for _, proc := range top.Processes {
			entry := map[string]string{}
			for i, title := range top.Titles {
				if i < len(proc) {
					entry[title] = proc[i]
				}
			}
			info.Processes = append(info.Processes, entry)
		}
	}

	return info
}

// computeCPUPercent derives usage from the delta between the stats
// sample and its precpu predecessor, scaled by online CPUs.
func computeCPUPercent(stats *connection.Stats) float64 {
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemCPUUsage) - float64(stats.PreCPUStats.SystemCPUUsage)
	online := float64(stats.CPUStats.OnlineCPUs)
	if systemDelta <= 0 || online <= 0 {
		return 0
	}
	return round2(cpuDelta / systemDelta * online * 100)
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// parseEngineTime parses the engine's RFC3339(-nano) timestamps,
// returning the zero time for the engine's "never" sentinel.
func parseEngineTime(s string) time.Time {
	if s == "" || s == "0001-01-01T00:00:00Z" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
