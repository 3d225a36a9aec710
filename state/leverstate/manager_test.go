package leverstate

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"collaterallever/native/lever"
	"collaterallever/storage"
)

func testAddr(suffix byte) common.Address {
	var addr common.Address
	addr[19] = suffix
	return addr
}

func TestOwnerRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	_, ok, err := manager.LeverGetOwner()
	require.NoError(t, err)
	require.False(t, ok)

	owner := testAddr(0x01)
	require.NoError(t, manager.LeverSetOwner(owner))

	got, ok, err := manager.LeverGetOwner()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, owner, got)
}

func TestRegistryRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	asset := testAddr(0x10)
	marketToken := testAddr(0x11)

	_, ok, err := manager.LeverRegistryGet(asset)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, manager.LeverRegistryPut(asset, marketToken))
	got, ok, err := manager.LeverRegistryGet(asset)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, marketToken, got)

	// Overwrite wins.
	replacement := testAddr(0x12)
	require.NoError(t, manager.LeverRegistryPut(asset, replacement))
	got, _, err = manager.LeverRegistryGet(asset)
	require.NoError(t, err)
	require.Equal(t, replacement, got)
}

func TestSequencePerOwner(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	alice := testAddr(0xA0)
	bob := testAddr(0xB0)

	for want := uint64(1); want <= 3; want++ {
		id, err := manager.LeverNextPositionID(alice)
		require.NoError(t, err)
		require.Equal(t, want, id)
	}
	id, err := manager.LeverNextPositionID(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id, "sequences are independent per owner")
}

func TestPositionSlotLifecycle(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	owner := testAddr(0xA0)

	record, ok, err := manager.LeverGetPosition(owner, 7)
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, record.Absent())

	position := &lever.Position{
		ID:               7,
		Owner:            owner,
		CollateralMarket: testAddr(0x11),
		BorrowMarket:     testAddr(0x21),
		CollateralAmount: big.NewInt(2_000),
		BorrowedAmount:   big.NewInt(1_005),
		Short:            true,
	}
	require.NoError(t, manager.LeverPutPosition(position))

	got, ok, err := manager.LeverGetPosition(owner, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, position, got)

	require.NoError(t, manager.LeverClearPosition(owner, 7))
	record, ok, err = manager.LeverGetPosition(owner, 7)
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, record.Absent())

	// Clearing twice is harmless.
	require.NoError(t, manager.LeverClearPosition(owner, 7))
}

func TestPositionSlotsDoNotCollide(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	alice := testAddr(0xA0)
	bob := testAddr(0xB0)

	for i, owner := range []common.Address{alice, bob} {
		require.NoError(t, manager.LeverPutPosition(&lever.Position{
			ID:               1,
			Owner:            owner,
			CollateralMarket: testAddr(0x11),
			BorrowMarket:     testAddr(0x21),
			CollateralAmount: big.NewInt(int64(100 * (i + 1))),
			BorrowedAmount:   big.NewInt(0),
		}))
	}

	got, ok, err := manager.LeverGetPosition(alice, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, big.NewInt(100), got.CollateralAmount)

	got, ok, err = manager.LeverGetPosition(bob, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, big.NewInt(200), got.CollateralAmount)
}
