package aggregator

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/espcluster/internal/model/entities"
)

var (
	ErrOversizedPayload = errors.New("incoming snapshot exceeds record size")
	ErrTruncatedPayload = errors.New("incoming snapshot shorter than record size")
	ErrNoPeerSlot       = errors.New("record table has no neighbour slot")
)

// DataAggregator merges this board's snapshot and the neighbour's snapshot into the record table.
type DataAggregator struct {
	board  entities.BoardID
	logger *zap.SugaredLogger
}

func NewDataAggregator(board entities.BoardID, logger *zap.SugaredLogger) *DataAggregator {
	if logger == nil {
		logger = zap.S()
	}
	return &DataAggregator{board: board, logger: logger}
}

// PeerSlot is the table slot owned by the neighbour this board exchanges with.
func PeerSlot(board entities.BoardID, capacity int) (int, error) {
	if capacity < 2 {
		return 0, ErrNoPeerSlot
	}
	return (int(board) + 1) % capacity, nil
}

// Merge writes local into the board's own slot, then overlays incoming into the neighbour slot.
// On a size error the neighbour slot keeps its previous value.
func (d *DataAggregator) Merge(local entities.SensorSnapshot, incoming []byte, table *entities.RecordTable) error {
	if !table.Set(int(d.board), local) {
		return fmt.Errorf("board %d has no slot in a table of %d", d.board, table.Cap())
	}

	peer, err := PeerSlot(d.board, table.Cap())
	if err != nil {
		return err
	}

	switch {
	case len(incoming) > entities.SnapshotSize:
		d.logger.Warnf("Dropping neighbour snapshot: %d bytes, record is %d", len(incoming), entities.SnapshotSize)
		return fmt.Errorf("%w: %d bytes", ErrOversizedPayload, len(incoming))
	case len(incoming) < entities.SnapshotSize:
		d.logger.Warnf("Dropping neighbour snapshot: %d bytes, record is %d", len(incoming), entities.SnapshotSize)
		return fmt.Errorf("%w: %d bytes", ErrTruncatedPayload, len(incoming))
	}

	var snap entities.SensorSnapshot
	if err := snap.UnmarshalBinary(incoming); err != nil {
		return err
	}
	table.Set(peer, snap)
	d.logger.Debugf("Merged snapshot of board %d into slot %d", snap.BoardID, peer)
	return nil
}
