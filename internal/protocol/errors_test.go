package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func TestPermanent(t *testing.T) {
	base := errors.New("530 login incorrect")
	perm := Permanent(base)

	if !IsPermanent(perm) {
		t.Error("IsPermanent(Permanent(err)) = false")
	}
	if !IsPermanent(fmt.Errorf("listing: %w", perm)) {
		t.Error("wrapped permanent error not detected")
	}
	if !errors.Is(perm, base) {
		t.Error("Permanent() must keep the cause in the chain")
	}
	if IsPermanent(base) {
		t.Error("plain error reported as permanent")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) != nil")
	}
	if Permanent(perm) != perm {
		t.Error("Permanent() should not double wrap")
	}
}
