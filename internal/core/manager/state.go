package manager

import (
	"encoding/gob"
	"fmt"
	"io"

	"github.com/zeusync/behave/internal/core/bt"
	"github.com/zeusync/behave/internal/core/observability/log"
)

// state is the gob layout written by SaveState. Blackboards are kept in
// their own binary form.
type state struct {
	World  []byte
	Actors map[bt.ActorID][]byte
}

// SaveState writes the world blackboard and the blackboard of every spawned
// actor to w. Blackboard values of custom types must be registered with gob.
func (m *Manager) SaveState(w io.Writer) error {
	st := state{Actors: make(map[bt.ActorID][]byte)}
	if m.world != nil {
		raw, err := m.world.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode world: %w", err)
		}
		st.World = raw
	}
	for _, inst := range m.snapshot() {
		raw, err := inst.Blackboard().MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode actor %s: %w", inst.Actor(), err)
		}
		st.Actors[inst.Actor()] = raw
	}
	if err := gob.NewEncoder(w).Encode(st); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	m.logger.Info("state saved", log.Int("actors", len(st.Actors)))
	return nil
}

// LoadState reads what SaveState wrote. The world blackboard is replaced at
// once. Actor blackboards replace those of spawned actors; the rest are kept
// until the actor is spawned.
func (m *Manager) LoadState(r io.Reader) error {
	var st state
	if err := gob.NewDecoder(r).Decode(&st); err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	if m.world != nil && st.World != nil {
		if err := m.world.UnmarshalBinary(st.World); err != nil {
			return fmt.Errorf("decode world: %w", err)
		}
	}

	restored := make(map[bt.ActorID]bt.Blackboard)
	for actor, raw := range st.Actors {
		var bb bt.Blackboard
		if inst, ok := m.Instance(actor); ok {
			bb = inst.Blackboard()
		} else {
			bb = bt.NewBlackboard()
			restored[actor] = bb
		}
		if err := bb.UnmarshalBinary(raw); err != nil {
			return fmt.Errorf("decode actor %s: %w", actor, err)
		}
	}

	m.stateMu.Lock()
	m.restored = restored
	m.stateMu.Unlock()
	m.logger.Info("state loaded", log.Int("actors", len(st.Actors)), log.Int("pending", len(restored)))
	return nil
}

// takeRestored hands out a loaded blackboard once.
func (m *Manager) takeRestored(actor bt.ActorID) (bt.Blackboard, bool) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	bb, ok := m.restored[actor]
	if ok {
		delete(m.restored, actor)
	}
	return bb, ok
}
