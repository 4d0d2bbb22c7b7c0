// Package procinfo samples the collector's own resource usage.
package procinfo

import (
	"bufio"
	"errors"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
)

type Sample struct {
	RSSBytes       int64
	HeapAllocBytes uint64
	Goroutines     int
}

// Take reads RSS from /proc/self/status where available; elsewhere
// RSSBytes is zero.
func Take() Sample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s := Sample{
		HeapAllocBytes: ms.HeapAlloc,
		Goroutines:     runtime.NumGoroutine(),
	}
	if rss, err := CurrentRSSBytes(); err == nil {
		s.RSSBytes = rss
	}
	return s
}

func CurrentRSSBytes() (int64, error) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return parseVmRSS(f)
}

func parseVmRSS(r io.Reader) (int64, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		value, ok := strings.CutPrefix(scanner.Text(), "VmRSS:")
		if !ok {
			continue
		}
		fields := strings.Fields(value)
		if len(fields) == 0 {
			return 0, errors.New("VmRSS parse failure")
		}
		kb, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, errors.New("VmRSS not found")
}
