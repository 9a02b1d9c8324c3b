package ledger

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

var ErrCorruptLedger = errors.New("corrupt ledger")

// Decode parses a ledger in either the versioned layout or the legacy bare
// map of id to record.
func Decode(data []byte) (*Ledger, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return New(), nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptLedger, err)
	}

	_, hasVersion := probe["version"]
	_, hasRecords := probe["records"]
	if hasVersion && hasRecords {
		l := New()
		if err := json.Unmarshal(data, l); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptLedger, err)
		}
		if l.Records == nil {
			l.Records = make(map[string]*SyncRecord)
		}
		if l.Spaces == nil {
			l.Spaces = []SpaceRef{}
		}
		return l, fixupRecords(l)
	}

	l := New()
	l.Version = 0
	for id, raw := range probe {
		var rec SyncRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%w: record %s: %w", ErrCorruptLedger, id, err)
		}
		if rec.ID == "" {
			rec.ID = id
		}
		l.Records[id] = &rec
	}
	return l, fixupRecords(l)
}

func fixupRecords(l *Ledger) error {
	for id, rec := range l.Records {
		if rec == nil {
			return fmt.Errorf("%w: record %s is null", ErrCorruptLedger, id)
		}
		if rec.ID != id {
			return fmt.Errorf("%w: record key %s holds id %s", ErrCorruptLedger, id, rec.ID)
		}
		if rec.NodeType == "" {
			rec.NodeType = "docx"
		}
	}
	return nil
}

// Encode writes l in the current layout
func Encode(l *Ledger) ([]byte, error) {
	out := *l
	out.Version = CurrentVersion
	if out.Records == nil {
		out.Records = map[string]*SyncRecord{}
	}
	if out.Spaces == nil {
		out.Spaces = []SpaceRef{}
	}
	return json.MarshalIndent(&out, "", "  ")
}
