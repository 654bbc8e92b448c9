package telemetry

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	totalPattern = regexp.MustCompile(`(?i)total\s+hashrate:\s*([\d.]+)\s*mhash/s`)
	gpuPattern   = regexp.MustCompile(`(?i)gpu\s+#(\d+)\s+(.+?)\s+hashrate:\s*([\d.]+)\s*mhash/s`)
)

// Event is a recognized miner log line. It is either a TotalUpdate or a
// GPUUpdate.
type Event interface {
	event()
}

// TotalUpdate announces the aggregate hash rate and starts a new
// measurement cycle.
type TotalUpdate struct {
	RateMH float64
}

// GPUUpdate reports the hash rate of a single device.
type GPUUpdate struct {
	ID     int
	Name   string
	RateMH float64
}

func (TotalUpdate) event() {}
func (GPUUpdate) event()   {}

// ParseLine looks for a total or per-GPU hash rate anywhere in line.
// The total shape wins when both are present. Lines that match neither,
// or whose numbers do not parse, yield ok == false.
func ParseLine(line string) (ev Event, ok bool) {
	if m := totalPattern.FindStringSubmatch(line); m != nil {
		rate, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil, false
		}
		return TotalUpdate{RateMH: rate}, true
	}

	m := gpuPattern.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, false
	}
	rate, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return nil, false
	}
	return GPUUpdate{
		ID:     id,
		Name:   strings.TrimSpace(m[2]),
		RateMH: rate,
	}, true
}
