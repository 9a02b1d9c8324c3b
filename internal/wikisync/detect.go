package wikisync

import (
	"github.com/openmined/kbsync/internal/ledger"
	"github.com/openmined/kbsync/internal/wiki"
)

// DocumentMetadata is a listed wiki node as seen by the change detector
type DocumentMetadata struct {
	ID        string
	NodeToken string
	Title     string
	NodeType  string
	EditTime  string
	ParentID  string
	HasChild  bool
	SpaceID   string
}

func metadataFromNode(n *wiki.Node) DocumentMetadata {
	return DocumentMetadata{
		ID:        n.ObjToken,
		NodeToken: n.NodeToken,
		Title:     n.Title,
		NodeType:  n.ObjType,
		EditTime:  n.ObjEditTime,
		ParentID:  n.ParentNodeToken,
		HasChild:  n.HasChild,
		SpaceID:   n.SpaceID,
	}
}

func (d *DocumentMetadata) IsDocument() bool {
	return d.NodeType == wiki.DocxType
}

type Action uint8

const (
	ActionSkip Action = iota
	ActionSync
)

func (a Action) String() string {
	if a == ActionSync {
		return "sync"
	}
	return "skip"
}

const (
	ReasonNew         = "new"
	ReasonChanged     = "changed"
	ReasonUnchanged   = "unchanged"
	ReasonNotDocument = "not_document"
)

type Decision struct {
	Action Action
	Reason string
}

// Decide reports whether doc must be fetched again. Only the source edit time
// is compared, so no download is needed to decide.
func Decide(doc DocumentMetadata, rec *ledger.SyncRecord) Decision {
	switch {
	case !doc.IsDocument():
		return Decision{Action: ActionSkip, Reason: ReasonNotDocument}
	case rec == nil:
		return Decision{Action: ActionSync, Reason: ReasonNew}
	case doc.EditTime == rec.LastEditTime:
		return Decision{Action: ActionSkip, Reason: ReasonUnchanged}
	default:
		return Decision{Action: ActionSync, Reason: ReasonChanged}
	}
}
