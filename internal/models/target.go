package models

import "time"

// TargetConfig describes optional lifecycle management of the machine
// hosting the backup repository: wake it before the run, shut it down
// after.
type TargetConfig struct {
	WOL      *WOLConfig      // nil if the target is always on
	Shutdown *ShutdownConfig // nil if the target should stay up
}

// WOLConfig holds Wake-on-LAN configuration for the storage target.
type WOLConfig struct {
	MACAddress    string
	BroadcastIP   string
	PollURL       string        // URL polled until the target is reachable
	Timeout       time.Duration // max time to wait for the target
	PollInterval  time.Duration
	StabilizeWait time.Duration // settle time after the target responds
}

// WakeResult holds the result of a Wake-on-LAN operation.
type WakeResult struct {
	PacketSent   bool
	TargetReady  bool
	WaitDuration time.Duration
	Error        error
}

// ShutdownConfig holds SSH shutdown configuration for the storage target.
type ShutdownConfig struct {
	Host          string
	Port          int
	Username      string
	KeyPath       string // path to the private key file
	PrivateKey    []byte // loaded from KeyPath if nil
	ShutdownDelay int    // minutes before the target powers off
}

// ShutdownResult holds the result of a remote shutdown attempt.
type ShutdownResult struct {
	CommandRun bool
	Output     string
	Error      error
}
