package domain

import (
	"encoding/json"
	"time"
)

// DefaultErrorName is stored when a report carries no usable name.
const DefaultErrorName = "Error"

// DefaultErrorMessage is stored when a report carries no message at all.
const DefaultErrorMessage = "Unknown error"

// ErrorReport is one captured error as persisted by the ingestion endpoint.
type ErrorReport struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"projectId"`
	Name       string    `json:"name"`
	Message    string    `json:"message"`
	Stack      *string   `json:"stack,omitempty"`
	URL        *string   `json:"url,omitempty"`
	UserAgent  *string   `json:"userAgent,omitempty"`
	Timestamp  string    `json:"timestamp"`
	App        *string   `json:"app,omitempty"`
	Env        *string   `json:"env,omitempty"`
	Release    *string   `json:"release,omitempty"`
	Tags       JSONBlob  `json:"tags,omitempty"`
	Extra      JSONBlob  `json:"extra,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// ErrorReportFilter narrows dashboard listings.
type ErrorReportFilter struct {
	App     string
	Env     string
	Release string
	Limit   int
	Offset  int
}

// JSONBlob is opaque JSON text carried through storage without interpretation.
// A nil blob means absent.
type JSONBlob []byte

// MarshalJSON emits the stored text as-is, or null when absent.
func (b JSONBlob) MarshalJSON() ([]byte, error) {
	if len(b) == 0 {
		return []byte("null"), nil
	}
	return b, nil
}

// UnmarshalJSON keeps the raw text; null becomes absent.
func (b *JSONBlob) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}
	*b = append((*b)[:0], data...)
	return nil
}

// Valid reports whether the blob is absent or well-formed JSON.
func (b JSONBlob) Valid() bool {
	return len(b) == 0 || json.Valid(b)
}
