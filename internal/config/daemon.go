package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultDaemonConfigPath is the canonical daemon tuning defaults file.
const DefaultDaemonConfigPath = "config/daemon.defaults.json"

// DaemonConfig carries every numeric knob the daemon needs that isn't a
// command-line flag: the hunt-loop candidate-rate table, PPS pulse
// thresholds, SHM segment count, and reconfigure-on-lock policy. Fields
// omitted from the JSON file retain their Get* defaults.
type DaemonConfig struct {
	HuntBaudRates    []int `json:"hunt_baud_rates,omitempty"`
	HuntRetryBudget  *int  `json:"hunt_retry_budget,omitempty"`
	HuntStopBitsList []int `json:"hunt_stopbits,omitempty"`

	PPSCycle5HzMinMillis  *int `json:"pps_cycle_5hz_min_millis,omitempty"`
	PPSCycle5HzMaxMillis  *int `json:"pps_cycle_5hz_max_millis,omitempty"`
	PPSCycle1HzMinMillis  *int `json:"pps_cycle_1hz_min_millis,omitempty"`
	PPSCycle1HzMaxMillis  *int `json:"pps_cycle_1hz_max_millis,omitempty"`
	PPSMaxFixAgeMillis    *int `json:"pps_max_fix_age_millis,omitempty"`
	PPSRejectBackoffCount *int `json:"pps_reject_backoff_count,omitempty"`

	SHMSegmentCount *int `json:"shm_segment_count,omitempty"`

	ReconfigureOnLock *bool    `json:"reconfigure_on_lock,omitempty"`
	ReconfigureHz     *float64 `json:"reconfigure_hz,omitempty"`

	ChronySocketEnabled *bool `json:"chrony_socket_enabled,omitempty"`
}

// EmptyDaemonConfig returns a DaemonConfig with all fields nil.
func EmptyDaemonConfig() *DaemonConfig {
	return &DaemonConfig{}
}

// LoadDaemonConfig loads a DaemonConfig from a JSON file, rejecting a path
// without a .json extension or a file larger than 1 MiB.
func LoadDaemonConfig(path string) (*DaemonConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyDaemonConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultDaemonConfig loads the canonical daemon defaults,
// searching from the current directory up to the repo root. Panics on
// failure, intended for test setup.
func MustLoadDefaultDaemonConfig() *DaemonConfig {
	candidates := []string{
		DefaultDaemonConfigPath,
		"../../" + DefaultDaemonConfigPath,
		"../../../" + DefaultDaemonConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadDaemonConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultDaemonConfigPath + " - run tests from repository root")
}

// Validate checks that set fields hold sane values.
func (c *DaemonConfig) Validate() error {
	if c.HuntRetryBudget != nil && *c.HuntRetryBudget <= 0 {
		return fmt.Errorf("hunt_retry_budget must be positive, got %d", *c.HuntRetryBudget)
	}
	if c.PPSMaxFixAgeMillis != nil && *c.PPSMaxFixAgeMillis <= 0 {
		return fmt.Errorf("pps_max_fix_age_millis must be positive, got %d", *c.PPSMaxFixAgeMillis)
	}
	if c.SHMSegmentCount != nil && *c.SHMSegmentCount < 1 {
		return fmt.Errorf("shm_segment_count must be at least 1, got %d", *c.SHMSegmentCount)
	}
	if c.ReconfigureHz != nil && *c.ReconfigureHz <= 0 {
		return fmt.Errorf("reconfigure_hz must be positive, got %f", *c.ReconfigureHz)
	}
	return nil
}

// GetHuntBaudRates returns the configured hunt candidate baud table, or
// the reference table matching internal/ioport.CandidateRates.
func (c *DaemonConfig) GetHuntBaudRates() []int {
	if len(c.HuntBaudRates) == 0 {
		return []int{4800, 9600, 19200, 38400, 57600, 115200}
	}
	return c.HuntBaudRates
}

// GetHuntStopBitsList returns the configured stop-bit candidates.
func (c *DaemonConfig) GetHuntStopBitsList() []int {
	if len(c.HuntStopBitsList) == 0 {
		return []int{1, 2}
	}
	return c.HuntStopBitsList
}

// GetHuntRetryBudget returns the per-candidate retry byte budget.
func (c *DaemonConfig) GetHuntRetryBudget() int {
	if c.HuntRetryBudget == nil {
		return 256
	}
	return *c.HuntRetryBudget
}

// GetPPSCycle5HzRange returns the 5Hz pulse cycle tolerance window.
func (c *DaemonConfig) GetPPSCycle5HzRange() (time.Duration, time.Duration) {
	min, max := 180, 201
	if c.PPSCycle5HzMinMillis != nil {
		min = *c.PPSCycle5HzMinMillis
	}
	if c.PPSCycle5HzMaxMillis != nil {
		max = *c.PPSCycle5HzMaxMillis
	}
	return time.Duration(min) * time.Millisecond, time.Duration(max) * time.Millisecond
}

// GetPPSCycle1HzRange returns the 1Hz pulse cycle tolerance window.
func (c *DaemonConfig) GetPPSCycle1HzRange() (time.Duration, time.Duration) {
	min, max := 900, 1100
	if c.PPSCycle1HzMinMillis != nil {
		min = *c.PPSCycle1HzMinMillis
	}
	if c.PPSCycle1HzMaxMillis != nil {
		max = *c.PPSCycle1HzMaxMillis
	}
	return time.Duration(min) * time.Millisecond, time.Duration(max) * time.Millisecond
}

// GetPPSMaxFixAge returns the in-band fix staleness gate.
func (c *DaemonConfig) GetPPSMaxFixAge() time.Duration {
	if c.PPSMaxFixAgeMillis == nil {
		return 1100 * time.Millisecond
	}
	return time.Duration(*c.PPSMaxFixAgeMillis) * time.Millisecond
}

// GetPPSRejectBackoffCount returns the consecutive-rejection backoff
// threshold.
func (c *DaemonConfig) GetPPSRejectBackoffCount() int {
	if c.PPSRejectBackoffCount == nil {
		return 10
	}
	return *c.PPSRejectBackoffCount
}

// GetSHMSegmentCount returns how many NTP SHM segments the daemon
// attaches at startup.
func (c *DaemonConfig) GetSHMSegmentCount() int {
	if c.SHMSegmentCount == nil {
		return 2
	}
	return *c.SHMSegmentCount
}

// GetReconfigureOnLock reports whether the session should push a
// post-lock rate/message-set reconfiguration once a driver locks.
func (c *DaemonConfig) GetReconfigureOnLock() bool {
	if c.ReconfigureOnLock == nil {
		return true
	}
	return *c.ReconfigureOnLock
}

// GetReconfigureHz returns the cycle rate requested on lock.
func (c *DaemonConfig) GetReconfigureHz() float64 {
	if c.ReconfigureHz == nil {
		return 1.0
	}
	return *c.ReconfigureHz
}

// GetChronySocketEnabled reports whether the chrony domain-socket
// publisher should be started alongside SHM.
func (c *DaemonConfig) GetChronySocketEnabled() bool {
	if c.ChronySocketEnabled == nil {
		return false
	}
	return *c.ChronySocketEnabled
}
