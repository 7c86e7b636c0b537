package node

import (
	"sync"

	"github.com/LeonardoBeccarini/espcluster/internal/model"
	"github.com/LeonardoBeccarini/espcluster/internal/model/messages"
)

// Mailbox hands work from transport and input goroutines to the cycle loop.
// Each slot holds at most one item; a newer arrival overwrites the older one.
type Mailbox struct {
	mu     sync.Mutex
	data   *model.Datagram
	cmd    *model.Datagram
	local  *model.TimingCommand
	notify chan struct{}
}

func NewMailbox() *Mailbox {
	return &Mailbox{notify: make(chan struct{}, 1)}
}

// Put stores a received datagram in the slot for its kind.
func (m *Mailbox) Put(d model.Datagram) {
	m.mu.Lock()
	switch d.Kind {
	case messages.KindData:
		m.data = &d
	case messages.KindCommand:
		m.cmd = &d
	default:
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.wake()
}

// PutLocal stores a command typed by the operator.
func (m *Mailbox) PutLocal(c model.TimingCommand) {
	m.mu.Lock()
	m.local = &c
	m.mu.Unlock()
	m.wake()
}

// Take empties every slot.
func (m *Mailbox) Take() (data, cmd *model.Datagram, local *model.TimingCommand) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, cmd, local = m.data, m.cmd, m.local
	m.data, m.cmd, m.local = nil, nil, nil
	return
}

// TakeCommands empties the command slots and leaves the data slot alone.
func (m *Mailbox) TakeCommands() (cmd *model.Datagram, local *model.TimingCommand) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd, local = m.cmd, m.local
	m.cmd, m.local = nil, nil
	return
}

func (m *Mailbox) Notify() <-chan struct{} { return m.notify }

func (m *Mailbox) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
