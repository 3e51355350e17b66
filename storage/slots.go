package storage

import (
	"encoding/json"
	"fmt"

	"prism-board/domain"
)

// Slot names under which a session snapshot is persisted.
const (
	SlotBoard      = "current-board"
	SlotColumns    = "board-columns"
	SlotTasks      = "board-tasks"
	SlotActiveDrag = "active-drag"
)

var slotNames = []string{SlotBoard, SlotColumns, SlotTasks, SlotActiveDrag}

func encodeSlots(snap domain.Snapshot) (map[string][]byte, error) {
	values := map[string]any{
		SlotBoard:      snap.Board,
		SlotColumns:    snap.Columns,
		SlotTasks:      snap.Tasks,
		SlotActiveDrag: snap.ActiveTaskID,
	}
	out := make(map[string][]byte, len(values))
	for name, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode slot %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

// decodeSlots rebuilds a snapshot from the stored slots. Missing slots fall
// back to the default board. found is false when no slot was stored at all.
func decodeSlots(slots map[string][]byte) (snap domain.Snapshot, found bool, err error) {
	snap = domain.DefaultSnapshot()
	if len(slots) == 0 {
		return snap, false, nil
	}
	targets := map[string]any{
		SlotBoard:      &snap.Board,
		SlotColumns:    &snap.Columns,
		SlotTasks:      &snap.Tasks,
		SlotActiveDrag: &snap.ActiveTaskID,
	}
	for _, name := range slotNames {
		data, ok := slots[name]
		if !ok || len(data) == 0 {
			continue
		}
		if err := json.Unmarshal(data, targets[name]); err != nil {
			return domain.Snapshot{}, false, fmt.Errorf("decode slot %s: %w", name, err)
		}
	}
	if snap.Tasks == nil {
		snap.Tasks = []domain.Task{}
	}
	return snap, true, nil
}
