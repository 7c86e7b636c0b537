package messages

import "github.com/LeonardoBeccarini/espcluster/internal/model/entities"

// DatagramKind distinguishes the record types carried by the peer link.
// KindAck is link-internal and never reaches the receive handler.
type DatagramKind string

const (
	KindData    DatagramKind = "data"
	KindCommand DatagramKind = "cmd"
	KindAck     DatagramKind = "ack"
)

func (k DatagramKind) Valid() bool {
	return k == KindData || k == KindCommand || k == KindAck
}

// Datagram is what the link delivers to the receive handler: (sender, bytes).
type Datagram struct {
	Sender  entities.Addr
	Kind    DatagramKind
	Payload []byte
}
