package internal

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Metadata keys attached to every published envelope.
const (
	MetaProvider  = "provider"
	MetaEvent     = "event"
	MetaProject   = "project"
	MetaRequestID = "request_id"
	MetaTopic     = "topic"
)

// envelopeMetadata returns the routing metadata for event on topic. Empty
// values are left out so consumers can tell "unset" from "blank".
func envelopeMetadata(event Event, topic string) map[string]string {
	meta := make(map[string]string, 5)
	for key, value := range map[string]string{
		MetaProvider:  event.Provider,
		MetaEvent:     event.Name,
		MetaProject:   event.Project,
		MetaRequestID: event.RequestID,
		MetaTopic:     topic,
	} {
		if value != "" {
			meta[key] = value
		}
	}
	return meta
}

// encodeEnvelope wraps the JSON envelope in a watermill message.
func encodeEnvelope(event Event, topic string) (*message.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	for key, value := range envelopeMetadata(event, topic) {
		msg.Metadata.Set(key, value)
	}
	return msg, nil
}
