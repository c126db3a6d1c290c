package domain

import (
	"errors"
	"testing"
)

func TestValidKind(t *testing.T) {
	t.Parallel()

	for _, kind := range []Kind{KindMembershipExpiring, KindPaymentReceived, KindAttendanceRecorded, KindCommunityReply, KindSystem} {
		if !ValidKind(kind) {
			t.Fatalf("expected %q to be valid", kind)
		}
	}
	if ValidKind("marketing_blast") {
		t.Fatal("expected unknown kind to be invalid")
	}
}

func TestNotificationValidate(t *testing.T) {
	t.Parallel()

	valid := Notification{RecipientID: "p1", Kind: KindSystem}
	if err := valid.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	missing := Notification{Kind: KindSystem}
	if err := missing.Validate(); !errors.Is(err, ErrRecipientRequired) {
		t.Fatalf("expected recipient required, got %v", err)
	}

	unknown := Notification{RecipientID: "p1", Kind: "bogus"}
	if err := unknown.Validate(); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected invalid kind, got %v", err)
	}
}
