// Package relay exposes a store.Backend over HTTP and websockets and provides
// the matching client, so viewers and orchestrators on other machines can
// share one durable store.
package relay

import "github.com/koscakluka/duet/core/dialogue"

type createSessionRequest struct {
	DateKey string `json:"dateKey"`
	Topic   string `json:"topic"`
}

type createSessionResponse struct {
	ID string `json:"id"`
}

type sessionResponse struct {
	Session dialogue.Session `json:"session"`
	Turns   []dialogue.Turn  `json:"turns"`
}

type sessionsResponse struct {
	Sessions []dialogue.Session `json:"sessions"`
}

type turnsResponse struct {
	Turns []dialogue.Turn `json:"turns"`
}

type errorResponse struct {
	Error string `json:"error"`
}
