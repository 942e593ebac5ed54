package ws

import (
	"log/slog"

	"github.com/SGIModel/MUSE-OS/internal/market"
	"github.com/SGIModel/MUSE-OS/internal/mca"
)

// Bridge implements mca.Callback and broadcasts run events to the hub.
type Bridge struct {
	hub *Hub
}

func NewBridge(hub *Hub) *Bridge {
	return &Bridge{hub: hub}
}

func (b *Bridge) OnIteration(e mca.Event) {
	msg, err := NewEnvelope(TypeRunIteration, e)
	if err != nil {
		slog.Error("ws: marshaling iteration event", "err", err)
		return
	}
	b.hub.Broadcast(msg)
}

func (b *Bridge) OnPeriod(p mca.Period, _ *market.Snapshot) {
	msg, err := NewEnvelope(TypeRunPeriod, p)
	if err != nil {
		slog.Error("ws: marshaling period event", "err", err)
		return
	}
	b.hub.Broadcast(msg)
}
