package entities

import "fmt"

// RecordTable is the last-known-value cache of snapshots, one slot per board.
// Slot i always holds the most recent snapshot attributed to board i.
type RecordTable struct {
	slots    [MaxBoards]SensorSnapshot
	capacity int
}

// NewRecordTable builds an empty table for a mesh of the given size.
func NewRecordTable(capacity int) (RecordTable, error) {
	if capacity < 1 || capacity > MaxBoards {
		return RecordTable{}, fmt.Errorf("record table capacity %d out of range 1..%d", capacity, MaxBoards)
	}
	return RecordTable{capacity: capacity}, nil
}

func (t *RecordTable) Cap() int { return t.capacity }

// Get returns the snapshot in slot i.
func (t *RecordTable) Get(i int) (SensorSnapshot, bool) {
	if i < 0 || i >= t.capacity {
		return SensorSnapshot{}, false
	}
	return t.slots[i], true
}

// Set overwrites slot i. Out-of-range indices are refused.
func (t *RecordTable) Set(i int, s SensorSnapshot) bool {
	if i < 0 || i >= t.capacity {
		return false
	}
	t.slots[i] = s
	return true
}

// Snapshots copies the occupied range of the table.
func (t *RecordTable) Snapshots() []SensorSnapshot {
	out := make([]SensorSnapshot, t.capacity)
	copy(out, t.slots[:t.capacity])
	return out
}
