package cliutil

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/AreTaj/Migraine-Navigator/internal/events"
)

// LogRecord represents a structured log event ready for JSON encoding.
type LogRecord struct {
	Timestamp time.Time `json:"ts"`
	Source    string    `json:"source"`
	Level     string    `json:"level"`
	Message   string    `json:"msg"`
	Stream    string    `json:"stream"`
	Type      string    `json:"type,omitempty"`
	Pid       int       `json:"pid,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NewLogRecord converts a supervisor event into a structured log record.
func NewLogRecord(event events.Event) LogRecord {
	level := event.Level
	if level == "" {
		if inferred := events.InferLevel(event.Message); inferred != "" {
			level = inferred
		} else {
			level = "info"
		}
	}
	stream := event.Stream
	if stream == "" {
		stream = events.StreamSystem
	}
	record := LogRecord{
		Timestamp: event.Timestamp,
		Source:    event.Source,
		Level:     level,
		Message:   RedactSecrets(event.Message),
		Stream:    stream,
		Pid:       event.Pid,
	}
	if event.Type != events.TypeOutput {
		record.Type = string(event.Type)
	}
	if event.Err != nil {
		record.Error = RedactSecrets(event.Err.Error())
	}
	return record
}

// EncodeLogEvent writes event as one JSON record.
func EncodeLogEvent(enc *json.Encoder, event events.Event) error {
	if enc == nil {
		return nil
	}
	record := NewLogRecord(event)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := enc.Encode(&record); err != nil {
		return fmt.Errorf("encode log record: %w", err)
	}
	return nil
}
