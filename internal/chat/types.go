package chat

import (
	"errors"
	"time"

	"github.com/sunmoonron/rinkchat/internal/wire"
)

// User-facing failures. Everything else (crypto, transport,
// persistence) degrades silently per the error policy.
var (
	ErrCapacity     = errors.New("too many groups")
	ErrInvalidName  = errors.New("name not allowed")
	ErrEmptyMessage = errors.New("message is empty")
	ErrTooLong      = errors.New("message too long")
	ErrProfane      = errors.New("text not allowed")
	ErrUnknownGroup = errors.New("unknown group")
	ErrUnknownRoom  = errors.New("unknown room")
	ErrInvalidPeer  = errors.New("invalid peer key")
	ErrNoActive     = errors.New("no active group")
)

type MessageKind string

const (
	MsgChat   MessageKind = "chat"
	MsgSystem MessageKind = "system"
	MsgShare  MessageKind = "share"
)

// Message is immutable once stored; ID doubles as the dedupe key.
type Message struct {
	ID           string        `json:"id"`
	Kind         MessageKind   `json:"kind"`
	Text         string        `json:"text"`
	SenderName   string        `json:"sender_name"`
	SenderPubKey string        `json:"sender_pub_key"`
	TimestampMs  int64         `json:"timestamp_ms"`
	IsMine       bool          `json:"is_mine"`
	Program      *wire.Program `json:"program,omitempty"`
}

type Group struct {
	ID                string                  `json:"id"`
	Secret            string                  `json:"secret"`
	DisplayName       string                  `json:"display_name"`
	PasswordProtected bool                    `json:"password_protected"`
	Public            bool                    `json:"public"`
	Members           map[string]string       `json:"members"` // display name -> pubkey
	Messages          []Message               `json:"messages"`
	Votes             map[int]map[string]bool `json:"votes"` // option index -> voter names
	LastSeenMs        map[string]int64        `json:"last_seen_ms"`
	Unread            int                     `json:"unread"`

	seen *seenWindow
}

type DMThread struct {
	PeerPubKey string    `json:"peer_pub_key"`
	PeerName   string    `json:"peer_name"`
	GroupID    string    `json:"group_id"` // group the peer was discovered in
	Messages   []Message `json:"messages"`
	Unread     int       `json:"unread"`
}

// GroupSummary is the sidebar view of a group.
type GroupSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Public      bool   `json:"public"`
	Unread      int    `json:"unread"`
	Connected   bool   `json:"connected"`
	Members     int    `json:"members"`
	Active      bool   `json:"active"`
}

type ThreadSummary struct {
	PeerPubKey string `json:"peer_pub_key"`
	PeerName   string `json:"peer_name"`
	GroupID    string `json:"group_id"`
	Unread     int    `json:"unread"`
}

type Config struct {
	DataDir       string
	BaseURL       string
	Relays        []string
	MaxGroups     int
	MaxMessages   int
	DedupeWindow  int
	MaxMessageLen int
	PresenceEvery time.Duration
	Reconnect     time.Duration
	Lookback      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxGroups <= 0 {
		c.MaxGroups = 8
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = 300
	}
	if c.DedupeWindow <= 0 {
		c.DedupeWindow = 512
	}
	if c.MaxMessageLen <= 0 {
		c.MaxMessageLen = 2000
	}
	if c.PresenceEvery <= 0 {
		c.PresenceEvery = 30 * time.Second
	}
	if c.Reconnect <= 0 {
		c.Reconnect = 5 * time.Second
	}
	if c.Lookback <= 0 {
		c.Lookback = time.Hour
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://sunmoonron.github.io"
	}
	return c
}
