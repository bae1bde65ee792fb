package httpapi

import (
	"encoding/json"
	"net/http"

	"qms/counter-console/internal/hub"
	"qms/counter-console/internal/logging"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

// consoleSocket serves the SockJS endpoint. Clients send
// {"action":"subscribe","topics":["snapshot","timer"]}; a snapshot
// subscriber receives the current state straight away.
func (h *Handler) consoleSocket() http.Handler {
	logger := logging.Component("socket")
	return sockjs.NewHandler("/console", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := hub.NewClient(uuid.NewString(), 16)
		h.hub.Register(client)
		defer h.hub.Unregister(client)

		go func() {
			for msg := range client.Send {
				if err := session.Send(string(msg)); err != nil {
					return
				}
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				logger.Debug().Str("client_id", client.ID).Msg("ignored socket message")
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.hub.Unsubscribe(client, parsed.Topics)
				continue
			}
			h.hub.Subscribe(client, parsed.Topics)
			if wantsSnapshot(parsed.Topics) {
				data, err := json.Marshal(hub.Envelope{Topic: hub.TopicSnapshot, Payload: NewStateView(h.store.Get(), h.clock.Now())})
				if err != nil {
					continue
				}
				_ = session.Send(string(data))
			}
		}
	})
}

func wantsSnapshot(topics []string) bool {
	if len(topics) == 0 {
		return true
	}
	for _, topic := range topics {
		if topic == hub.TopicSnapshot {
			return true
		}
	}
	return false
}
