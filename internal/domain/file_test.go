package domain

import (
	"testing"
	"time"
)

func TestRemoteFile_DedupKey(t *testing.T) {
	mod := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	base := RemoteFile{Path: "/in/a.csv", Size: 10, LastModified: mod}

	if base.DedupKey() != base.DedupKey() {
		t.Fatal("DedupKey() is not deterministic")
	}

	tests := []struct {
		name  string
		other RemoteFile
		same  bool
	}{
		{name: "same file other timezone", other: RemoteFile{Path: "/in/a.csv", Size: 10, LastModified: mod.In(time.FixedZone("x", 3600))}, same: true},
		{name: "size changed", other: RemoteFile{Path: "/in/a.csv", Size: 11, LastModified: mod}},
		{name: "touched", other: RemoteFile{Path: "/in/a.csv", Size: 10, LastModified: mod.Add(time.Second)}},
		{name: "other path", other: RemoteFile{Path: "/in/b.csv", Size: 10, LastModified: mod}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := base.DedupKey() == tt.other.DedupKey()
			if got != tt.same {
				t.Errorf("keys equal = %v, want %v", got, tt.same)
			}
		})
	}
}

func TestRemoteFile_DedupKey_PrefersContentHash(t *testing.T) {
	a := RemoteFile{Path: "/in/a.csv", Size: 10, ContentHash: "abc"}

	tests := []struct {
		name  string
		other RemoteFile
		same  bool
	}{
		{name: "re-uploaded unchanged", other: RemoteFile{Path: "/in/a.csv", Size: 10, LastModified: time.Now(), ContentHash: "abc"}, same: true},
		{name: "content changed", other: RemoteFile{Path: "/in/a.csv", Size: 10, ContentHash: "def"}},
		{name: "same content other path", other: RemoteFile{Path: "/in/b.csv", Size: 10, ContentHash: "abc"}},
		{name: "same content archived", other: RemoteFile{Path: "/archive/a.csv", Size: 10, ContentHash: "abc"}},
		{name: "hash not reported", other: RemoteFile{Path: "/in/a.csv", Size: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.DedupKey() == tt.other.DedupKey()
			if got != tt.same {
				t.Errorf("keys equal = %v, want %v", got, tt.same)
			}
		})
	}
}

func TestExecutionStatus_Terminal(t *testing.T) {
	tests := []struct {
		status ExecutionStatus
		want   bool
	}{
		{ExecutionStatusRunning, false},
		{ExecutionStatusCompleted, true},
		{ExecutionStatusCompletedWithErrors, true},
		{ExecutionStatusFailed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseProtocol(t *testing.T) {
	if got := ParseProtocol(" AzureBlob "); got != ProtocolAzureBlob {
		t.Errorf("ParseProtocol() = %q, want %q", got, ProtocolAzureBlob)
	}
	if ParseProtocol("gopher").Valid() {
		t.Error("gopher should not be a valid protocol")
	}
}
