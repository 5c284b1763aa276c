package objectstore

import (
	"context"
	"strings"
	"time"
)

// normalizeETag strips the surrounding quotes S3-compatible stores wrap
// ETags in and lowercases the result, so it can be compared against a
// recorded checksum the same way regardless of which store produced it.
func normalizeETag(etag string) string {
	return strings.ToLower(strings.Trim(etag, `"`))
}

// ObjectInfo is what the reconciler needs to know about a stored object.
// Checksum is the best available content checksum: the object's
// X-Amz-Meta-Sha256 metadata when present, else its normalized (unquoted,
// lowercased) ETag.
type ObjectInfo struct {
	Exists    bool
	SizeBytes int64
	ETag      string
	Checksum  string
}

// Inspector answers the two questions the reconciler asks per bucket: does
// a given key exist (and with what size/etag), and what keys exist in the
// bucket at all (to find orphans with no matching attachments row).
type Inspector interface {
	Head(ctx context.Context, bucket, objectKey string) (ObjectInfo, error)
	ListKeys(ctx context.Context, bucket, prefix string) ([]string, error)
}

// SignedURL describes the client-facing
// contract attachments.Service hands back; objectKey is opaque to the
// caller, scoped by bucket, and signed with a deadline.
type SignedURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}
