package app

import (
	"github.com/brianly1003/nrelay/internal/domain"
	"github.com/brianly1003/nrelay/internal/server/websocket"
)

// serverBroadcaster forwards accepted events to the relay server once it
// exists. Events arriving before that have no recipients.
type serverBroadcaster struct {
	server *websocket.Server
}

func (b *serverBroadcaster) Broadcast(ev *domain.Event) {
	if b.server == nil {
		return
	}
	b.server.Broadcast(ev)
}
