package main

import (
	"github.com/alexandrut83/minerstats/telemetry"
)

// progressSource reports how far the log follower has read
type progressSource interface {
	Progress() telemetry.Progress
}

// statusResponse is served on /status
type statusResponse struct {
	Follower      telemetry.Progress `json:"follower"`
	Stale         bool               `json:"stale"`
	UptimeSeconds float64            `json:"uptime_seconds"`
	Subscribers   int                `json:"stream_clients"`
}
