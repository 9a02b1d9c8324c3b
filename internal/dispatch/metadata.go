package dispatch

import (
	"path"
	"strconv"
	"strings"
	"time"
)

const DefaultSource = "feishu_wiki"

// MetadataFromKey derives index metadata from the object key layout
// `<prefix><space>/<dirs...>/<title>.<ext>`.
func MetadataFromKey(key, prefix, source string, kind EventKind, now time.Time) map[string]string {
	md := map[string]string{
		"source":         source,
		"sync_timestamp": strconv.FormatInt(now.Unix(), 10),
		"full_path":      key,
	}
	if kind != KindUnknown {
		md["event_type"] = string(kind)
	}

	name := path.Base(key)
	ext := path.Ext(name)
	md["title"] = strings.TrimSuffix(name, ext)
	if ext != "" {
		md["file_type"] = strings.TrimPrefix(ext, ".")
	}

	rel := strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
	parts := strings.Split(rel, "/")
	if len(parts) >= 2 {
		md["space"] = parts[0]
		md["directories"] = strings.Join(parts[:len(parts)-1], "/")
	}
	return md
}
