package httpapi

import "github.com/mhendzel2/ELNOTE-sub001/internal/collab"

// commentKindFromRequest defaults an omitted/unknown kind to a plain
// comment; collab.Service itself rejects anything but comment/deviation.
func commentKindFromRequest(raw string) collab.CommentKind {
	if collab.CommentKind(raw) == collab.CommentKindDeviation {
		return collab.CommentKindDeviation
	}
	return collab.CommentKindComment
}
