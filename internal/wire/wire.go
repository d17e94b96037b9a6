// Package wire defines the event kinds, the signed envelope, and the
// encrypted payload schema shared by every client. Kinds live in the
// ephemeral range: relays may drop them after delivery, which is the
// point — chat history is client-local.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/nbd-wtf/go-nostr"
)

const (
	KindChat     = 24242
	KindVote     = 24243
	KindShare    = 24244
	KindDirect   = 24245
	KindPresence = 24246
	KindJoin     = 24247
	KindLeave    = 24248
)

// PayloadVersion is carried inside every encrypted payload. Peers drop
// payloads with a version they do not understand instead of guessing.
const PayloadVersion = 1

// Kinds lists every kind a group subscription asks for.
func Kinds() []int {
	return []int{KindChat, KindVote, KindShare, KindDirect, KindPresence, KindJoin, KindLeave}
}

// Program is the structured schedule entry carried by share events.
type Program struct {
	Title    string `json:"title"`
	Venue    string `json:"venue,omitempty"`
	StartsAt int64  `json:"starts_at,omitempty"`
	Details  string `json:"details,omitempty"`
}

// Payload is the plaintext that gets sealed into an event's content.
// Which fields are required depends on the event kind; Decode enforces
// that.
type Payload struct {
	V      int      `json:"v"`
	Name   string   `json:"name"`
	Text   string   `json:"text,omitempty"`
	Option int      `json:"option,omitempty"`
	Prog   *Program `json:"program,omitempty"`
	SentMs int64    `json:"sent_ms,omitempty"`
}

func (p Payload) Encode() (string, error) {
	if p.V == 0 {
		p.V = PayloadVersion
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var errBadPayload = errors.New("malformed payload")

// Decode parses and validates a decrypted payload for the given kind.
// Unknown versions, unknown fields, and missing required fields all
// fail closed.
func Decode(kind int, plaintext string) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(plaintext)))
	dec.DisallowUnknownFields()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return Payload{}, errBadPayload
	}
	if p.V != PayloadVersion {
		return Payload{}, fmt.Errorf("%w: version %d", errBadPayload, p.V)
	}
	if p.Name == "" {
		return Payload{}, fmt.Errorf("%w: missing sender name", errBadPayload)
	}
	switch kind {
	case KindChat, KindDirect:
		if p.Text == "" {
			return Payload{}, fmt.Errorf("%w: missing text", errBadPayload)
		}
	case KindVote:
		if p.Option < 0 {
			return Payload{}, fmt.Errorf("%w: negative option", errBadPayload)
		}
	case KindShare:
		if p.Prog == nil || p.Prog.Title == "" {
			return Payload{}, fmt.Errorf("%w: missing program", errBadPayload)
		}
	case KindPresence, KindJoin, KindLeave:
	default:
		return Payload{}, fmt.Errorf("%w: unknown kind %d", errBadPayload, kind)
	}
	return p, nil
}

// Build assembles and signs an envelope. The "g" tag scopes the event
// to a group; direct messages add a "p" tag via extra.
func Build(kind int, groupID, ciphertext, secretKey string, extra ...nostr.Tag) (*nostr.Event, error) {
	ev := &nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      kind,
		Tags:      append(nostr.Tags{{"g", groupID}}, extra...),
		Content:   ciphertext,
	}
	if err := ev.Sign(secretKey); err != nil {
		return nil, err
	}
	return ev, nil
}

// Verify checks the event id and signature against the claimed pubkey.
// The signature covers the canonical serialization, not the id field,
// and dedupe keys on the id; an event whose id does not match the
// canonical hash must not pass.
func Verify(ev *nostr.Event) bool {
	if ev.ID != ev.GetID() {
		return false
	}
	ok, err := ev.CheckSignature()
	return err == nil && ok
}

func firstTag(ev *nostr.Event, key string) string {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == key {
			return tag[1]
		}
	}
	return ""
}

// GroupTag returns the event's group id, or "".
func GroupTag(ev *nostr.Event) string { return firstTag(ev, "g") }

// RecipientTag returns the "p" recipient of a direct message, or "".
func RecipientTag(ev *nostr.Event) string { return firstTag(ev, "p") }

// ShareURL builds the out-of-band invite link. The secret rides in the
// fragment so it never reaches a server in a request path.
func ShareURL(baseURL, secret string, passwordProtected bool) string {
	frag := "invite=" + url.QueryEscape(secret)
	if passwordProtected {
		frag += "&pw=1"
	}
	return baseURL + "/#" + frag
}
