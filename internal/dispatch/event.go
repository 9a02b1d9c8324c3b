package dispatch

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/goccy/go-json"
)

var (
	ErrNoRecords        = errors.New("notification has no records")
	ErrInvalidNotifyKey = errors.New("notification record has no object key")
)

type EventKind string

const (
	KindUnknown  EventKind = ""
	KindCreated  EventKind = "Created"
	KindModified EventKind = "Modified"
	KindRemoved  EventKind = "Removed"
)

// KindForEventName maps a raw notification event name onto an EventKind
func KindForEventName(name string) EventKind {
	switch {
	case strings.Contains(name, "ObjectRemoved"):
		return KindRemoved
	case strings.Contains(name, "ObjectModified"),
		strings.Contains(name, "ObjectOverwrote"),
		strings.Contains(name, "Overwrite"):
		return KindModified
	case strings.Contains(name, "ObjectCreated"):
		return KindCreated
	default:
		return KindUnknown
	}
}

// ChangeEvent is a single object store change notification record
type ChangeEvent struct {
	Bucket    string
	ObjectKey string
	FileName  string
	Kind      EventKind
	Size      int64
	Name      string
	Region    string
}

func NewChangeEvent(bucket, key, eventName string, size int64) *ChangeEvent {
	return &ChangeEvent{
		Bucket:    bucket,
		ObjectKey: key,
		FileName:  path.Base(key),
		Kind:      KindForEventName(eventName),
		Size:      size,
		Name:      eventName,
	}
}

type notifyObject struct {
	Bucket struct {
		Name string `json:"name"`
	} `json:"bucket"`
	Object struct {
		Key  string `json:"key"`
		Size int64  `json:"size"`
	} `json:"object"`
}

type ossRecord struct {
	EventName string       `json:"eventName"`
	Region    string       `json:"region"`
	OSS       notifyObject `json:"oss"`
}

type s3Record struct {
	EventName string       `json:"eventName"`
	AWSRegion string       `json:"awsRegion"`
	S3        notifyObject `json:"s3"`
}

type notification struct {
	Events  []ossRecord `json:"events"`
	Records []s3Record  `json:"Records"`
}

// ParseNotification decodes an OSS or S3 style notification, raw or base64
// encoded, into one ChangeEvent per record.
func ParseNotification(data []byte) ([]*ChangeEvent, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		decoded, err := base64.StdEncoding.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("decode notification: %w", err)
		}
		data = bytes.TrimSpace(decoded)
	}

	var n notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}

	events := make([]*ChangeEvent, 0, len(n.Events)+len(n.Records))
	for _, r := range n.Events {
		ev, err := newEvent(r.OSS, r.EventName, url.PathUnescape)
		if err != nil {
			return nil, err
		}
		ev.Region = strings.TrimPrefix(r.Region, "oss-")
		events = append(events, ev)
	}
	for _, r := range n.Records {
		// S3 form-encodes keys, spaces arrive as '+'
		ev, err := newEvent(r.S3, r.EventName, url.QueryUnescape)
		if err != nil {
			return nil, err
		}
		ev.Region = r.AWSRegion
		events = append(events, ev)
	}

	if len(events) == 0 {
		return nil, ErrNoRecords
	}
	return events, nil
}

func newEvent(obj notifyObject, eventName string, unescape func(string) (string, error)) (*ChangeEvent, error) {
	if obj.Object.Key == "" {
		return nil, ErrInvalidNotifyKey
	}
	key, err := unescape(obj.Object.Key)
	if err != nil {
		return nil, fmt.Errorf("unescape key %q: %w", obj.Object.Key, err)
	}
	return NewChangeEvent(obj.Bucket.Name, key, eventName, obj.Object.Size), nil
}
