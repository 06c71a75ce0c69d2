package transport

import (
	"context"
	"errors"

	"alertrelay/pkg/msgfmt"
)

// ErrUnavailable reports that the broadcast transport cannot be used in this
// process (no credentials, library missing, disabled).
var ErrUnavailable = errors.New("transport unavailable")

// ChatTarget is one destination chat, optionally a forum topic inside it.
type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

// Profile is a named sender identity with the chats it delivers to.
type Profile struct {
	Name    string
	ChatIDs []int64
}

// SendOptions tune a single text send.
type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Broadcaster delivers rendered alert text to every chat of the given
// profiles.
//
// Available is a capability check: callers must not treat a false result as
// a delivery failure.
type Broadcaster interface {
	Available() bool
	Profiles(ctx context.Context) ([]Profile, error)
	Broadcast(ctx context.Context, profiles []Profile, text string, threadID int, mode msgfmt.RenderMode) error
}

// TopicCreator creates forum topics for dynamically configured tags.
type TopicCreator interface {
	// ResolveChat picks the chat a topic should live in. chatID and profile
	// are hints from the topic entry; both may be zero.
	ResolveChat(ctx context.Context, chatID int64, profile string) (int64, bool)
	CreateTopic(ctx context.Context, chatID int64, title string, iconColor int) (threadID int, err error)
}
