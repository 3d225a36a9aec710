package lever

import (
	"errors"
	"math/big"
	"testing"
)

func TestRegisterRequiresOwner(t *testing.T) {
	rig := newTestRig(t)

	err := rig.engine.Register(testIntruder, testBaseToken, testBaseMarket)
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestRegisterProbesMarketToken(t *testing.T) {
	rig := newTestRig(t)
	bogus := makeAddress(0xDD)

	if err := rig.engine.Register(testAdmin, testBaseToken, bogus); !errors.Is(err, ErrInvalidMarketToken) {
		t.Fatalf("expected ErrInvalidMarketToken for unknown market, got %v", err)
	}
	// A genuine market token wrapping a different asset is just as invalid.
	if err := rig.engine.Register(testAdmin, testBaseToken, testQuoteMarket); !errors.Is(err, ErrInvalidMarketToken) {
		t.Fatalf("expected ErrInvalidMarketToken for mismatched underlying, got %v", err)
	}
}

func TestRegisterOverwritesMapping(t *testing.T) {
	rig := newTestRig(t)
	replacement := makeAddress(0x12)

	if err := rig.market.List(replacement, testBaseToken); err != nil {
		t.Fatalf("list replacement market: %v", err)
	}
	if err := rig.engine.Register(testAdmin, testBaseToken, replacement); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	marketToken, ok, err := rig.engine.LookupMarket(testBaseToken)
	if err != nil || !ok {
		t.Fatalf("lookup after re-register: ok=%v err=%v", ok, err)
	}
	if marketToken != replacement {
		t.Fatalf("expected replacement market %s, got %s", replacement.Hex(), marketToken.Hex())
	}
	if evt, _ := rig.recorder.Last(); evt.Type != EventTypeMarketRegistered {
		t.Fatalf("expected %s event, got %s", EventTypeMarketRegistered, evt.Type)
	}
}

func TestLookupMarketUnknownAsset(t *testing.T) {
	rig := newTestRig(t)

	_, ok, err := rig.engine.LookupMarket(makeAddress(0xEF))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ok {
		t.Fatalf("expected unknown asset to miss")
	}
}

func TestTransferOwnership(t *testing.T) {
	rig := newTestRig(t)
	successor := makeAddress(0xA1)

	if err := rig.engine.TransferOwnership(testIntruder, successor); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner from non-owner transfer, got %v", err)
	}
	if err := rig.engine.TransferOwnership(testAdmin, successor); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	owner, err := rig.engine.Owner()
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if owner != successor {
		t.Fatalf("expected owner %s, got %s", successor.Hex(), owner.Hex())
	}

	// The previous owner lost its privileges with the handover.
	if err := rig.engine.Register(testAdmin, testBaseToken, testBaseMarket); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner for former owner, got %v", err)
	}
	if err := rig.engine.Register(successor, testBaseToken, testBaseMarket); err != nil {
		t.Fatalf("register by successor: %v", err)
	}
}

func TestBootstrapOwnerIsIdempotent(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.engine.BootstrapOwner(testIntruder); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	owner, err := rig.engine.Owner()
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if owner != testAdmin {
		t.Fatalf("expected bootstrap to keep %s, got %s", testAdmin.Hex(), owner.Hex())
	}
}

func TestGetPositionForeignOwnerReadsAbsent(t *testing.T) {
	rig := newTestRig(t)
	rig.seedBorrowCash(t, testQuoteMarket, testQuoteToken)

	position, err := rig.engine.OpenPosition(testUser, testBaseToken, testQuoteToken, big.NewInt(1_000), false, 2, false)
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	record, ok, err := rig.engine.GetPosition(testIntruder, position.ID)
	if err != nil {
		t.Fatalf("foreign read: %v", err)
	}
	if ok || !record.Absent() {
		t.Fatalf("expected absent sentinel for foreign owner, got %+v", record)
	}
}
