package ingest

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/dannyseiner/web-tools-sub000/internal/domain"
)

// TimestampLayout is the ISO-8601 form assigned when a report carries no timestamp.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Normalize maps a decoded report body onto an ErrorReport. Each field is
// handled on its own and nothing is rejected: string values are kept as sent,
// non-string optional fields are dropped and required ones fall back to
// defaults. ID and ProjectID are left for the caller.
func Normalize(raw map[string]json.RawMessage, now time.Time) domain.ErrorReport {
	report := domain.ErrorReport{
		Name:       domain.DefaultErrorName,
		Message:    domain.DefaultErrorMessage,
		Timestamp:  now.UTC().Format(TimestampLayout),
		ReceivedAt: now.UTC(),
	}
	if name, ok := stringField(raw, "name"); ok {
		report.Name = name
	}
	if value, ok := raw["message"]; ok && !isNull(value) {
		if message, ok := asString(value); ok {
			report.Message = message
		} else {
			report.Message = string(compact(value))
		}
	}
	if ts, ok := stringField(raw, "timestamp"); ok {
		report.Timestamp = ts
	}
	report.Stack = optionalString(raw, "stack")
	report.URL = optionalString(raw, "url")
	report.UserAgent = optionalString(raw, "userAgent")
	report.App = optionalString(raw, "app")
	report.Env = optionalString(raw, "env")
	report.Release = optionalString(raw, "release")
	report.Tags = blobField(raw, "tags")
	report.Extra = blobField(raw, "extra")
	return report
}

func stringField(raw map[string]json.RawMessage, key string) (string, bool) {
	value, ok := raw[key]
	if !ok {
		return "", false
	}
	return asString(value)
}

func optionalString(raw map[string]json.RawMessage, key string) *string {
	value, ok := stringField(raw, key)
	if !ok {
		return nil
	}
	return &value
}

func blobField(raw map[string]json.RawMessage, key string) domain.JSONBlob {
	value, ok := raw[key]
	if !ok || isNull(value) {
		return nil
	}
	return domain.JSONBlob(compact(value))
}

func asString(value json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", false
	}
	return s, true
}

func isNull(value json.RawMessage) bool {
	trimmed := bytes.TrimSpace(value)
	return len(trimmed) == 0 || string(trimmed) == "null"
}

func compact(value json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, value); err != nil {
		return bytes.TrimSpace(value)
	}
	return buf.Bytes()
}
