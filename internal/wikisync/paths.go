package wikisync

import (
	"path"
	"strings"
)

const untitled = "untitled"

var segmentReplacer = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", `"`, "_",
	"/", "_", `\`, "_", "|", "_", "?", "_", "*", "_",
)

// SanitizeSegment makes title safe to use as one object key segment
func SanitizeSegment(title string) string {
	s := strings.TrimSpace(segmentReplacer.Replace(title))
	// keep keys free of relative segments
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", ".")
	}
	s = strings.Trim(s, ".")
	if s == "" {
		return untitled
	}
	return s
}

// StoragePath returns `<prefix><space>/<ancestors...>/<title>.md` with every
// segment sanitized.
func StoragePath(prefix, space string, ancestors []string, title string) string {
	segments := make([]string, 0, len(ancestors)+2)
	segments = append(segments, SanitizeSegment(space))
	for _, a := range ancestors {
		segments = append(segments, SanitizeSegment(a))
	}
	segments = append(segments, SanitizeSegment(title)+".md")
	return prefix + strings.Join(segments, "/")
}

// disambiguate appends `_<first 8 chars of id>` to the file stem of p
func disambiguate(p, id string) string {
	ext := path.Ext(p)
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return strings.TrimSuffix(p, ext) + "_" + short + ext
}

// assignPaths computes the storage path of every document in one listing.
// All documents sharing a path get an id suffix, so the result depends only on
// the listing and never on processing order.
func assignPaths(prefix, space string, docs []*listedDoc) {
	byPath := make(map[string][]*listedDoc, len(docs))
	for _, d := range docs {
		d.path = StoragePath(prefix, space, d.ancestors, d.meta.Title)
		byPath[d.path] = append(byPath[d.path], d)
	}
	for _, group := range byPath {
		if len(group) < 2 {
			continue
		}
		for _, d := range group {
			d.path = disambiguate(d.path, d.meta.ID)
		}
	}
}
