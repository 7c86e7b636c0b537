package messages

import "github.com/LeonardoBeccarini/espcluster/internal/model/entities"

// BoardRecord is the per-board object handed to the collector.
// Field names follow the cloud database schema of the cluster.
type BoardRecord struct {
	BoardID     uint8  `json:"board_ID"`
	Battery     uint8  `json:"battery"`
	Temperature uint8  `json:"temperature"`
	Humidity    uint8  `json:"humidity"`
	Pressure    uint16 `json:"pressure"`
	Luminosity  uint16 `json:"luminosity"`
}

func NewBoardRecord(s entities.SensorSnapshot) BoardRecord {
	return BoardRecord{
		BoardID:     uint8(s.BoardID),
		Battery:     s.Battery,
		Temperature: s.Temperature,
		Humidity:    s.Humidity,
		Pressure:    s.Pressure,
		Luminosity:  s.Luminosity,
	}
}

// RecordsFromTable flattens the record table in slot order.
func RecordsFromTable(t *entities.RecordTable) []BoardRecord {
	snaps := t.Snapshots()
	out := make([]BoardRecord, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, NewBoardRecord(s))
	}
	return out
}
