package models

import (
	"encoding/json"
	"strings"
	"time"
)

// LogLevel is the severity of an audit row
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

var logLevelRank = map[LogLevel]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
}

// ParseLogLevel reads a configured level name; unknown names mean INFO
func ParseLogLevel(name string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return LogLevelDebug
	case "WARN", "WARNING":
		return LogLevelWarn
	case "ERROR":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// AtLeast reports whether l is as severe as min
func (l LogLevel) AtLeast(min LogLevel) bool {
	return logLevelRank[l] >= logLevelRank[min]
}

// LogModule names the pipeline stage or surface that wrote the row
type LogModule string

const (
	LogModuleWebhook LogModule = "webhook"
	LogModuleIngest  LogModule = "ingest"
	LogModuleEngine  LogModule = "engine"
	LogModuleProfile LogModule = "profile"
	LogModuleAPI     LogModule = "api"
	LogModuleCLI     LogModule = "cli"
)

// Log is one audit row. Rows written for a message carry its Gmail id so the
// history of a delivery can be read back in order.
type Log struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	EmailID   string    `gorm:"size:64;index" json:"email_id,omitempty"`
	Level     LogLevel  `gorm:"size:8;index" json:"level"`
	Module    LogModule `gorm:"size:16;index" json:"module"`
	Action    string    `gorm:"size:64" json:"action"`
	Message   string    `gorm:"type:text" json:"message"`
	Details   string    `gorm:"type:text" json:"details,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// DecodeDetails unmarshals the stored details JSON into v
func (l *Log) DecodeDetails(v interface{}) error {
	if l.Details == "" {
		return nil
	}
	return json.Unmarshal([]byte(l.Details), v)
}
