// Package diag collects a small resource and environment snapshot for startup
// and per-run logs.
package diag

import (
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	logx "portalshot/pkg/logx"
)

// Snapshot is a point-in-time view of the process.
type Snapshot struct {
	NumCPU     int    `json:"num_cpu"`
	GOMAXPROCS int    `json:"gomaxprocs"`
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
}

func Collect() Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Snapshot{
		NumCPU:     runtime.NumCPU(),
		GOMAXPROCS: runtime.GOMAXPROCS(0),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		HeapSys:    ms.HeapSys,
		Sys:        ms.Sys,
		NumGC:      ms.NumGC,
		GoVersion:  runtime.Version(),
	}
}

// Fields renders the snapshot for logx with human-readable sizes.
func (s Snapshot) Fields() []logx.Field {
	return []logx.Field{
		logx.Int("num_cpu", s.NumCPU),
		logx.Int("gomaxprocs", s.GOMAXPROCS),
		logx.Int("goroutines", s.Goroutines),
		logx.String("heap_alloc", humanize.Bytes(s.HeapAlloc)),
		logx.String("heap_sys", humanize.Bytes(s.HeapSys)),
		logx.String("sys", humanize.Bytes(s.Sys)),
		logx.String("num_gc", humanize.Comma(int64(s.NumGC))),
		logx.String("go", s.GoVersion),
	}
}

const masked = "****"

var secretMarkers = []string{"PASS", "SECRET", "TOKEN", "KEY"}

// EnvVar is one environment entry, already masked if sensitive.
type EnvVar struct {
	Name  string
	Value string
}

// Env returns the process environment sorted by name.
func Env() []EnvVar { return envFrom(os.Environ()) }

func envFrom(kv []string) []EnvVar {
	out := make([]EnvVar, 0, len(kv))
	for _, e := range kv {
		name, value, _ := strings.Cut(e, "=")
		if name == "" {
			continue
		}
		if Sensitive(name) && value != "" {
			value = masked
		}
		out = append(out, EnvVar{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Sensitive reports whether an environment variable name looks like a secret.
func Sensitive(name string) bool {
	up := strings.ToUpper(name)
	for _, m := range secretMarkers {
		if strings.Contains(up, m) {
			return true
		}
	}
	return false
}

// Log writes the snapshot at info level and, if dumpEnv is set, the masked
// environment one variable per line.
func Log(log logx.Logger, msg string, dumpEnv bool) {
	log.Info(msg, Collect().Fields()...)
	if !dumpEnv {
		return
	}
	for _, e := range Env() {
		log.Info("env", logx.String("name", e.Name), logx.String("value", e.Value))
	}
}
