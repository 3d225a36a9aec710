package leverstate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"collaterallever/native/lever"
	"collaterallever/storage"
)

var errNilDatabase = errors.New("lever state: database not configured")

// Key layout under the lever/ prefix. Registry and sequence entries are
// keyed by address; position slots by owner address plus the big-endian id.
const (
	ownerKey       = "lever/owner"
	registryPrefix = "lever/registry/"
	sequencePrefix = "lever/seq/"
	positionPrefix = "lever/pos/"
)

// storedPosition is the persisted form of a position record. Kept separate
// from the engine type so the wire encoding can evolve independently.
type storedPosition struct {
	ID               uint64
	Owner            common.Address
	CollateralMarket common.Address
	BorrowMarket     common.Address
	CollateralAmount *big.Int
	BorrowedAmount   *big.Int
	Short            bool
}

// Manager persists the lever engine's registry, ownership and position
// ledger in a key-value database.
type Manager struct {
	db storage.Database
}

// NewManager wraps the database for the lever engine.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) ready() error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	return nil
}

// LeverGetOwner reads the module owner slot.
func (m *Manager) LeverGetOwner() (common.Address, bool, error) {
	if err := m.ready(); err != nil {
		return common.Address{}, false, err
	}
	ok, err := m.db.Has([]byte(ownerKey))
	if err != nil || !ok {
		return common.Address{}, false, err
	}
	raw, err := m.db.Get([]byte(ownerKey))
	if err != nil {
		return common.Address{}, false, err
	}
	return common.BytesToAddress(raw), true, nil
}

// LeverSetOwner writes the module owner slot.
func (m *Manager) LeverSetOwner(owner common.Address) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.db.Put([]byte(ownerKey), owner.Bytes())
}

// LeverRegistryGet resolves an asset's market token from the registry.
func (m *Manager) LeverRegistryGet(asset common.Address) (common.Address, bool, error) {
	if err := m.ready(); err != nil {
		return common.Address{}, false, err
	}
	key := registryKey(asset)
	ok, err := m.db.Has(key)
	if err != nil || !ok {
		return common.Address{}, false, err
	}
	raw, err := m.db.Get(key)
	if err != nil {
		return common.Address{}, false, err
	}
	return common.BytesToAddress(raw), true, nil
}

// LeverRegistryPut maps an asset to its market token, overwriting any
// previous entry.
func (m *Manager) LeverRegistryPut(asset, marketToken common.Address) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.db.Put(registryKey(asset), marketToken.Bytes())
}

// LeverNextPositionID consumes and returns the owner's next sequence number.
// The first id handed out is 1; ids are never reused, a cleared slot leaves a
// gap.
func (m *Manager) LeverNextPositionID(owner common.Address) (uint64, error) {
	if err := m.ready(); err != nil {
		return 0, err
	}
	key := sequenceKey(owner)
	var current uint64
	ok, err := m.db.Has(key)
	if err != nil {
		return 0, err
	}
	if ok {
		raw, err := m.db.Get(key)
		if err != nil {
			return 0, err
		}
		if len(raw) != 8 {
			return 0, fmt.Errorf("lever state: malformed sequence for %s", owner.Hex())
		}
		current = binary.BigEndian.Uint64(raw)
	}
	next := current + 1
	encoded := make([]byte, 8)
	binary.BigEndian.PutUint64(encoded, next)
	if err := m.db.Put(key, encoded); err != nil {
		return 0, err
	}
	return next, nil
}

// LeverGetPosition loads a position slot. Missing slots read back as the
// absent sentinel.
func (m *Manager) LeverGetPosition(owner common.Address, id uint64) (*lever.Position, bool, error) {
	if err := m.ready(); err != nil {
		return nil, false, err
	}
	key := positionKey(owner, id)
	ok, err := m.db.Has(key)
	if err != nil || !ok {
		return &lever.Position{}, false, err
	}
	raw, err := m.db.Get(key)
	if err != nil {
		return nil, false, err
	}
	stored := new(storedPosition)
	if err := rlp.DecodeBytes(raw, stored); err != nil {
		return nil, false, fmt.Errorf("lever state: decode position %s/%d: %w", owner.Hex(), id, err)
	}
	return &lever.Position{
		ID:               stored.ID,
		Owner:            stored.Owner,
		CollateralMarket: stored.CollateralMarket,
		BorrowMarket:     stored.BorrowMarket,
		CollateralAmount: stored.CollateralAmount,
		BorrowedAmount:   stored.BorrowedAmount,
		Short:            stored.Short,
	}, true, nil
}

// LeverPutPosition writes a position into its owner/id slot.
func (m *Manager) LeverPutPosition(position *lever.Position) error {
	if err := m.ready(); err != nil {
		return err
	}
	if position == nil {
		return errors.New("lever state: nil position")
	}
	stored := &storedPosition{
		ID:               position.ID,
		Owner:            position.Owner,
		CollateralMarket: position.CollateralMarket,
		BorrowMarket:     position.BorrowMarket,
		CollateralAmount: amountOrZero(position.CollateralAmount),
		BorrowedAmount:   amountOrZero(position.BorrowedAmount),
		Short:            position.Short,
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("lever state: encode position %s/%d: %w", position.Owner.Hex(), position.ID, err)
	}
	return m.db.Put(positionKey(position.Owner, position.ID), encoded)
}

// LeverClearPosition resets a slot to the absent sentinel. Clearing an
// already absent slot is a no-op.
func (m *Manager) LeverClearPosition(owner common.Address, id uint64) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.db.Delete(positionKey(owner, id))
}

func registryKey(asset common.Address) []byte {
	return append([]byte(registryPrefix), asset.Bytes()...)
}

func sequenceKey(owner common.Address) []byte {
	return append([]byte(sequencePrefix), owner.Bytes()...)
}

func positionKey(owner common.Address, id uint64) []byte {
	key := append([]byte(positionPrefix), owner.Bytes()...)
	encoded := make([]byte, 8)
	binary.BigEndian.PutUint64(encoded, id)
	return append(key, encoded...)
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
