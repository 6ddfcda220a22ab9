package core

import "math"

const bytesPerMB = 1024 * 1024

// Where a usage record came from.
const (
	UsageSourceMeter  = "meter"
	UsageSourceActive = "active"
	UsageSourceNone   = "none"
)

type UsageRecord struct {
	UploadedBytes   uint64  `json:"uploaded_bytes"`
	DownloadedBytes uint64  `json:"downloaded_bytes"`
	TotalBytes      uint64  `json:"total_bytes"`
	TotalMB         float64 `json:"total_mb"`
	Source          string  `json:"source"`
}

// NewUsageRecord fills the derived totals.
func NewUsageRecord(uploaded, downloaded uint64, source string) UsageRecord {
	total := uploaded + downloaded
	return UsageRecord{
		UploadedBytes:   uploaded,
		DownloadedBytes: downloaded,
		TotalBytes:      total,
		TotalMB:         BytesToMB(total),
		Source:          source,
	}
}

// BytesToMB converts to binary megabytes rounded to two decimals.
func BytesToMB(b uint64) float64 {
	return math.Round(float64(b)/bytesPerMB*100) / 100
}

// MBToBytes converts binary megabytes to bytes.
func MBToBytes(mb int64) int64 {
	return mb * bytesPerMB
}

// ClientRecord is a host currently authorised on the hotspot.
type ClientRecord struct {
	ID         string       `json:"id"`
	Address    string       `json:"address"`
	MACAddress string       `json:"mac_address"`
	User       string       `json:"user,omitempty"`
	Uptime     string       `json:"uptime,omitempty"`
	Usage      UsageRecord  `json:"usage"`
	Meter      *MeterRecord `json:"meter,omitempty"`
}

type MeterRecord struct {
	Name     string      `json:"name"`
	MaxLimit string      `json:"max_limit"`
	Usage    UsageRecord `json:"usage"`
}

// ConnectionResult is returned by router connectivity tests.
type ConnectionResult struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Info    *RouterInfo `json:"info,omitempty"`
}

type RouterInfo struct {
	Identity      string  `json:"identity"`
	Version       string  `json:"version"`
	BoardName     string  `json:"board_name"`
	Uptime        string  `json:"uptime"`
	CPULoad       float64 `json:"cpu_load"`
	MemoryUsed    int64   `json:"memory_used"`
	MemoryTotal   int64   `json:"memory_total"`
	ActiveUsers   int     `json:"active_users"`
	TotalBindings int     `json:"total_bindings"`
}
