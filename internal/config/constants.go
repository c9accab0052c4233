package config

import (
	"time"

	"scriptgate/pkg/contracts"
)

// Application constants
const (
	AppName    = "scriptgate"
	AppVersion = contracts.Version

	// EnvPrefix namespaces every environment variable.
	EnvPrefix = "SCRIPTGATE"

	DefaultLogFile = "logs/app.log"
)

// Entitlement defaults
const (
	DefaultWindow    = 2 * time.Minute
	DefaultTestKey   = "TEST-1234"
	DefaultKeyPrefix = "KEY-"
)

// Store drivers
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Telemetry exporters
const (
	ExporterNone       = "none"
	ExporterStdout     = "stdout"
	ExporterPrometheus = "prometheus"
)
