package repository

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestNotificationOwnerClause(t *testing.T) {
	where, args := PoolOwner().clause(1)
	if where != "recipient_scope IN ('staff', 'admin')" || len(args) != 0 {
		t.Fatalf("unexpected pool clause %q %v", where, args)
	}

	where, args = UserOwner("42").clause(3)
	if where != "recipient_scope = 'user' AND recipient_id = $3" {
		t.Fatalf("unexpected user clause %q", where)
	}
	if len(args) != 1 || args[0] != "42" {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestSideCountsTheOtherParty(t *testing.T) {
	if MemberSide.fromMember() {
		t.Fatal("a member counts messages sent by the club")
	}
	if !StaffSide.fromMember() {
		t.Fatal("the staff pool counts messages sent by the member")
	}
}

func TestIsNoRowsSeesWrappedErrors(t *testing.T) {
	if !isNoRows(fmt.Errorf("load notification: %w", pgx.ErrNoRows)) {
		t.Fatal("expected wrapped ErrNoRows to match")
	}
	if isNoRows(fmt.Errorf("load notification: boom")) {
		t.Fatal("unexpected match")
	}
}
