package lever

import "github.com/ethereum/go-ethereum/common"

// GetPosition reads owner's position id. Absent, closed and foreign ids all
// return the zero sentinel with ok=false.
func (e *Engine) GetPosition(owner common.Address, id uint64) (*Position, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	position, ok, err := e.state.LeverGetPosition(owner, id)
	if err != nil {
		return nil, false, err
	}
	if !ok || position.Absent() {
		return &Position{}, false, nil
	}
	return position.Clone(), true, nil
}
