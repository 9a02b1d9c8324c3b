package server

import "time"

const (
	DefaultAddr            = "127.0.0.1:8080"
	DefaultSyncRateLimit   = "30-M"
	DefaultShutdownTimeout = 30 * time.Second
)

type Config struct {
	Addr            string
	SyncRateLimit   string
	ShutdownTimeout time.Duration
}
