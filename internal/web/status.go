package web

import (
	"time"

	"gpgga-cot-relay/internal/ingest"
	"gpgga-cot-relay/internal/tak"
)

// Sources supplies the component snapshots the status endpoint reports.
// Any nil field is rendered as its zero value.
type Sources struct {
	Ingest func() ingest.Snapshot
	Link   func() tak.Snapshot
	Relay  func() RelayStatus
}

type RelayStatus struct {
	ActiveDevices int `json:"active_devices"`
	KnownDevices  int `json:"known_devices"`
}

type StatusSnapshot struct {
	Service   string          `json:"service"`
	NowUTC    string          `json:"now_utc"`
	UptimeSec int64           `json:"uptime_sec"`
	UDP       ingest.Snapshot `json:"udp"`
	TAK       tak.Snapshot    `json:"tak"`
	Relay     RelayStatus     `json:"relay"`
}

func snapshot(start time.Time, src Sources, nowUTC time.Time) StatusSnapshot {
	snap := StatusSnapshot{
		Service:   "gpgga-cot-relay",
		NowUTC:    nowUTC.Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
	}
	if src.Ingest != nil {
		snap.UDP = src.Ingest()
	}
	if src.Link != nil {
		snap.TAK = src.Link()
	}
	if src.Relay != nil {
		snap.Relay = src.Relay()
	}
	return snap
}
