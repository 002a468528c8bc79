package core

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"
)

// SystemStatus は /api/v1/status の応答。
type SystemStatus struct {
	Views         ViewStats    `json:"views"`
	Memory        MemoryStatus `json:"memory"`
	StubLogin     bool         `json:"stub_login"`
	UptimeSeconds int64        `json:"uptime_seconds"`
}

type MemoryStatus struct {
	UsedBytes  uint64 `json:"used_bytes"`
	TotalBytes uint64 `json:"total_bytes"`
}

// CollectSystemStatus で現在のステータスを集約する。
func CollectSystemStatus(views *ViewSessions, stubLogin bool, startedAt time.Time) SystemStatus {
	st := SystemStatus{StubLogin: stubLogin}
	if views != nil {
		st.Views = views.Stats()
	}
	if f, err := os.Open("/proc/meminfo"); err == nil {
		st.Memory = parseMemInfo(bufio.NewScanner(f))
		f.Close()
	}
	if !startedAt.IsZero() {
		st.UptimeSeconds = int64(time.Since(startedAt).Seconds())
	}
	return st
}

// parseMemInfo reads MemTotal/MemAvailable (KiB) lines. Missing data yields zeros.
func parseMemInfo(sc *bufio.Scanner) MemoryStatus {
	kib := map[string]uint64{}
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		key := strings.TrimSuffix(fields[0], ":")
		if key != "MemTotal" && key != "MemAvailable" {
			continue
		}
		if v, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
			kib[key] = v
		}
	}
	total, avail := kib["MemTotal"], kib["MemAvailable"]
	if total == 0 || avail > total {
		return MemoryStatus{TotalBytes: total * 1024}
	}
	return MemoryStatus{UsedBytes: (total - avail) * 1024, TotalBytes: total * 1024}
}
