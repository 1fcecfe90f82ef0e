// Package kmsg defines the message-bus wire envelope: the tagged Message
// variants, the KernelMessage envelope that carries them between processes,
// and the typed error/action vocabularies from §6. Every
// component in this module talks to every other component only through
// these types: an opaque Kind/Body pattern for independently-versionable
// payloads.
package kmsg

import "encoding/json"

// Kind discriminates a Message's variant.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
)

// Message is the tagged Request | Response variant a process sends or
// receives. Body carries a JSON-encoded, caller-defined payload.
type Message struct {
	Kind             Kind            `json:"kind"`
	ExpectsResponse  bool            `json:"expects_response,omitempty"`
	Body             json.RawMessage `json:"body"`
	Metadata         string          `json:"metadata,omitempty"`
}

// NewRequest builds a Request message from an arbitrary JSON-marshalable body.
func NewRequest(body interface{}, expectsResponse bool) (Message, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: KindRequest, ExpectsResponse: expectsResponse, Body: b}, nil
}

// NewResponse builds a Response message from an arbitrary JSON-marshalable body.
func NewResponse(body interface{}) (Message, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: KindResponse, Body: b}, nil
}

// Decode unmarshals Body into v.
func (m Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Body, v)
}
