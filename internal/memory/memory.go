package memory

import (
	"math"
	"os"
	"runtime/debug"
	"strconv"

	"chromi/internal/logging"
	"chromi/internal/metrics"
)

// DefaultRatio is the share of the container limit given to the Go heap.
// ffmpeg children count against the same cgroup.
const DefaultRatio = 0.7

// Sources of a Limit.
const (
	SourceNone        = "none"
	SourceGoMemLimit  = "GOMEMLIMIT"
	SourceMemoryLimit = "MEMORY_LIMIT"
)

// Limit describes how GOMEMLIMIT was chosen.
type Limit struct {
	Source string
	// Container is the MEMORY_LIMIT value, 0 if unset.
	Container int64
	// Bytes is the heap limit, 0 when none applies.
	Bytes int64
	Ratio float64
}

// Configured reports whether a heap limit is in effect.
func (l Limit) Configured() bool {
	return l.Bytes > 0
}

// FromEnv works out the heap limit from getenv without applying it.
//
//   - GOMEMLIMIT set: the runtime already applied it; it is reported as is
//   - MEMORY_LIMIT set (bytes, e.g. from the Kubernetes Downward API): the
//     limit is MEMORY_LIMIT * MEMORY_RATIO, ratio defaulting to DefaultRatio
func FromEnv(getenv func(string) string) Limit {
	if getenv("GOMEMLIMIT") != "" {
		l := Limit{Source: SourceGoMemLimit}
		if current := debug.SetMemoryLimit(-1); current > 0 && current < math.MaxInt64 {
			l.Bytes = current
		}
		return l
	}

	raw := getenv("MEMORY_LIMIT")
	if raw == "" {
		return Limit{Source: SourceNone}
	}
	container, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || container <= 0 {
		logging.Warn("Ignoring invalid MEMORY_LIMIT %q", raw)
		return Limit{Source: SourceNone}
	}

	ratio := DefaultRatio
	if raw := getenv("MEMORY_RATIO"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil || r <= 0 || r > 1 {
			logging.Warn("MEMORY_RATIO %q out of range (0.0-1.0], using %.2f", raw, DefaultRatio)
		} else {
			ratio = r
		}
	}

	return Limit{
		Source:    SourceMemoryLimit,
		Container: container,
		Bytes:     int64(float64(container) * ratio),
		Ratio:     ratio,
	}
}

// ConfigureFromEnv applies the limit derived from the process environment
// and exports it as a metric. Call it first thing in main.
func ConfigureFromEnv() Limit {
	l := FromEnv(os.Getenv)
	if l.Source == SourceMemoryLimit {
		debug.SetMemoryLimit(l.Bytes)
		logging.Info("Configured GOMEMLIMIT: %s (%.0f%% of %s container limit)",
			formatBytes(l.Bytes), l.Ratio*100, formatBytes(l.Container))
	}
	metrics.MemoryLimitBytes.Set(float64(l.Bytes))
	return l
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return strconv.FormatInt(b, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(b)/float64(div), 'f', 1, 64) + " " + string("KMGTPE"[exp]) + "iB"
}
