package ledger

import (
	"sort"
	"time"
)

// CurrentVersion is written on every save. Version 0 is the legacy flat layout.
const CurrentVersion = 1

// SyncRecord is what was last mirrored for one source document. The JSON keys
// match ledgers written by earlier releases.
type SyncRecord struct {
	ID           string  `json:"obj_token"`
	Title        string  `json:"title"`
	StoragePath  string  `json:"oss_path"`
	ContentHash  *string `json:"content_hash"`
	LastSyncedAt int64   `json:"last_sync"`
	LastEditTime string  `json:"obj_edit_time"`
	NodeType     string  `json:"obj_type"`
	SpaceID      string  `json:"space_id,omitempty"`
}

func (r *SyncRecord) SyncedAt() time.Time {
	return time.Unix(r.LastSyncedAt, 0).UTC()
}

type SpaceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Ledger is the persisted sync state of all walked spaces. It is not safe for
// concurrent use; the walker serializes mutations.
type Ledger struct {
	Version   int                    `json:"version"`
	Spaces    []SpaceRef             `json:"spaces"`
	UpdatedAt time.Time              `json:"updated_at"`
	Records   map[string]*SyncRecord `json:"records"`
}

func New() *Ledger {
	return &Ledger{
		Version: CurrentVersion,
		Spaces:  []SpaceRef{},
		Records: make(map[string]*SyncRecord),
	}
}

func (l *Ledger) Get(id string) (*SyncRecord, bool) {
	rec, ok := l.Records[id]
	return rec, ok
}

func (l *Ledger) Put(rec *SyncRecord) {
	l.Records[rec.ID] = rec
}

func (l *Ledger) Remove(id string) {
	delete(l.Records, id)
}

func (l *Ledger) Len() int {
	return len(l.Records)
}

// IDs returns all record ids in lexical order
func (l *Ledger) IDs() []string {
	ids := make([]string, 0, len(l.Records))
	for id := range l.Records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OwnedBy returns the records of spaceID in id order. With claimLegacy set,
// records without a space id are included too.
func (l *Ledger) OwnedBy(spaceID string, claimLegacy bool) []*SyncRecord {
	var owned []*SyncRecord
	for _, id := range l.IDs() {
		rec := l.Records[id]
		if rec.SpaceID == spaceID || (claimLegacy && rec.SpaceID == "") {
			owned = append(owned, rec)
		}
	}
	return owned
}

// SetSpace records or renames a walked space
func (l *Ledger) SetSpace(ref SpaceRef) {
	for i := range l.Spaces {
		if l.Spaces[i].ID == ref.ID {
			l.Spaces[i].Name = ref.Name
			return
		}
	}
	l.Spaces = append(l.Spaces, ref)
	sort.Slice(l.Spaces, func(i, j int) bool {
		return l.Spaces[i].ID < l.Spaces[j].ID
	})
}

// Paths returns the set of storage paths referenced by any record
func (l *Ledger) Paths() map[string]string {
	paths := make(map[string]string, len(l.Records))
	for id, rec := range l.Records {
		if rec.StoragePath != "" {
			paths[rec.StoragePath] = id
		}
	}
	return paths
}

type Summary struct {
	Version   int            `json:"version"`
	UpdatedAt time.Time      `json:"updated_at"`
	Records   int            `json:"records"`
	Spaces    []SpaceRef     `json:"spaces"`
	PerSpace  map[string]int `json:"per_space"`
	Legacy    int            `json:"legacy"`
}

func (l *Ledger) Summary() Summary {
	s := Summary{
		Version:   l.Version,
		UpdatedAt: l.UpdatedAt,
		Records:   len(l.Records),
		Spaces:    l.Spaces,
		PerSpace:  make(map[string]int),
	}
	for _, rec := range l.Records {
		if rec.SpaceID == "" {
			s.Legacy++
			continue
		}
		s.PerSpace[rec.SpaceID]++
	}
	return s
}
