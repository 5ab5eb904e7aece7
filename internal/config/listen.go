package config

import (
	"time"

	"github.com/spf13/pflag"
)

// ListenConfig holds configuration for the listen command.
type ListenConfig struct {
	WSURL     string
	RPCURL    string
	Address   string
	Topic0Map map[string]string

	AckTimeout          time.Duration
	MaxReconnects       int
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
	ShutdownGrace       time.Duration

	Out        string
	Errors     string
	BufferSize int

	PGDSN     string
	StateFile string
	StateName string

	ReplayBatchSize uint64
	MaxRetries      int
	RetryBackoff    time.Duration

	Driver       string
	AcceptWindow time.Duration

	MetricsAddr string
	LogLevel    string
}

// DefaultMaxReconnects is the listen command's redial budget. The
// subscription controller itself does not reconnect unless asked to.
const DefaultMaxReconnects = 5

// LoadListen merges config file, environment variables, and flags into ListenConfig.
func LoadListen(cfgFile string, flags *pflag.FlagSet) (ListenConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"ack-timeout":           30 * time.Second,
		"max-reconnects":        DefaultMaxReconnects,
		"reconnect-backoff":     time.Second,
		"max-reconnect-backoff": time.Minute,
		"shutdown-grace":        10 * time.Second,
		"out":                   "./data/ride_events.jsonl",
		"errors":                "./data/decode_errors.jsonl",
		"buffer-size":           256,
		"state-name":            "rideevents-listen",
		"replay-batch-size":     uint64(2000),
		"max-retries":           5,
		"retry-backoff":         500 * time.Millisecond,
		"accept-window":         30 * time.Second,
		"metrics-addr":          ":9090",
		"log-level":             "info",
	})
	if err != nil {
		return ListenConfig{}, err
	}

	return ListenConfig{
		WSURL:               v.GetString("ws"),
		RPCURL:              v.GetString("rpc"),
		Address:             v.GetString("address"),
		Topic0Map:           getStringMap(v, "topic0-map"),
		AckTimeout:          v.GetDuration("ack-timeout"),
		MaxReconnects:       v.GetInt("max-reconnects"),
		ReconnectBackoff:    v.GetDuration("reconnect-backoff"),
		MaxReconnectBackoff: v.GetDuration("max-reconnect-backoff"),
		ShutdownGrace:       v.GetDuration("shutdown-grace"),
		Out:                 v.GetString("out"),
		Errors:              v.GetString("errors"),
		BufferSize:          v.GetInt("buffer-size"),
		PGDSN:               v.GetString("pg-dsn"),
		StateFile:           v.GetString("state-file"),
		StateName:           v.GetString("state-name"),
		ReplayBatchSize:     v.GetUint64("replay-batch-size"),
		MaxRetries:          v.GetInt("max-retries"),
		RetryBackoff:        v.GetDuration("retry-backoff"),
		Driver:              v.GetString("driver"),
		AcceptWindow:        v.GetDuration("accept-window"),
		MetricsAddr:         v.GetString("metrics-addr"),
		LogLevel:            v.GetString("log-level"),
	}, nil
}
