package simulation

import (
	"sync"

	"terraguard/internal/alert"
	"terraguard/internal/model"
)

// RunState is the playback state. LastPrediction points at an immutable
// context, so copies of RunState are safe to share.
type RunState struct {
	Running        bool               `json:"running"`
	CurrentIndex   int                `json:"current_index"`
	Mode           model.Mode         `json:"mode"`
	Speed          float64            `json:"speed"`
	LastPrediction *alert.StepContext `json:"last_prediction"`
}

// StateManager owns the single RunState. Callers only ever see copies.
type StateManager struct {
	mu    sync.RWMutex
	state RunState
}

func NewStateManager(mode model.Mode, speed float64) *StateManager {
	return &StateManager{state: RunState{Mode: mode, Speed: speed}}
}

// Get returns a snapshot of the state.
func (m *StateManager) Get() RunState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Update applies fn to the state under the lock. fn must not block.
func (m *StateManager) Update(fn func(*RunState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.state)
}

// ResetIndex rewinds the cursor and forgets the last prediction. Running,
// mode and speed are left alone.
func (m *StateManager) ResetIndex() {
	m.Update(func(s *RunState) {
		s.CurrentIndex = 0
		s.LastPrediction = nil
	})
}
