package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// RemoteFile describes a file returned by a protocol adapter listing.
type RemoteFile struct {
	Name         string
	Path         string
	Size         int64
	LastModified time.Time
	URI          string
	ContentHash  string // optional, e.g. Content-MD5 or ETag
}

// DedupKey derives the identity of a remote file from its path plus either the
// content hash, when the source reports one, or size and modification time.
// Files at different paths never share a key, even with identical content.
func (f RemoteFile) DedupKey() string {
	var data string
	if f.ContentHash != "" {
		data = f.Path + "|hash:" + f.ContentHash
	} else {
		data = fmt.Sprintf("%s|%d|%s", f.Path, f.Size, f.LastModified.UTC().Format(time.RFC3339Nano))
	}
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// DiscoveredFile is a ledger entry: proof that a file has been announced.
type DiscoveredFile struct {
	ConfigurationID string
	DedupKey        string
	FileURI         string
	Size            int64
	LastModified    time.Time
	DiscoveredAt    time.Time
	ExecutionID     string
}
