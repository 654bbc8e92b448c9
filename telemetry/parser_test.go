package telemetry

import "testing"

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
	}{
		{
			name: "total",
			line: "Total hashrate: 123.45 Mhash/s",
			want: TotalUpdate{RateMH: 123.45},
		},
		{
			name: "total with device suffix and prefix metadata",
			line: "2026-10-18 12:00:01 [INFO] Total hashrate: 98.7 Mhash/s (1 CPU thread, 2 GPUs)",
			want: TotalUpdate{RateMH: 98.7},
		},
		{
			name: "total lower case",
			line: "total HASHRATE:  5 mhash/s",
			want: TotalUpdate{RateMH: 5},
		},
		{
			name: "gpu",
			line: "GPU #0 RTX3080 hashrate: 45.2 Mhash/s",
			want: GPUUpdate{ID: 0, Name: "RTX3080", RateMH: 45.2},
		},
		{
			name: "gpu name with spaces",
			line: "[miner] GPU #12 NVIDIA GeForce RTX 4090  hashrate: 101.5 Mhash/s accepted",
			want: GPUUpdate{ID: 12, Name: "NVIDIA GeForce RTX 4090", RateMH: 101.5},
		},
		{
			name: "gpu mixed case",
			line: "gpu #3 RX 6800 HashRate: 30 MHASH/S",
			want: GPUUpdate{ID: 3, Name: "RX 6800", RateMH: 30},
		},
		{
			name: "total wins over gpu",
			line: "GPU #1 card Total hashrate: 77 Mhash/s",
			want: TotalUpdate{RateMH: 77},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseLine(tt.line)
			if !ok {
				t.Fatalf("ParseLine(%q) not recognized", tt.line)
			}
			if got != tt.want {
				t.Fatalf("ParseLine(%q) = %#v, want %#v", tt.line, got, tt.want)
			}
		})
	}
}

func TestParseLineIgnored(t *testing.T) {
	lines := []string{
		"",
		"Connected to pool stratum+tcp://pool.example:3333",
		"Total hashrate: n/a",
		"GPU #0 RTX3080 temperature: 65C",
		"GPU #x RTX3080 hashrate: 45.2 Mhash/s",
		"Total hashrate: 12.3 Khash/s",
		// Malformed numbers match the shape but must not produce events.
		"Total hashrate: 1.2.3 Mhash/s",
		"Total hashrate: . Mhash/s",
		"GPU #0 RTX3080 hashrate: 4..5 Mhash/s",
		"GPU #99999999999999999999 RTX3080 hashrate: 45.2 Mhash/s",
	}

	for _, line := range lines {
		if ev, ok := ParseLine(line); ok {
			t.Errorf("ParseLine(%q) = %#v, want no event", line, ev)
		}
	}
}
