package main

import "fmt"

// ============================================================================
// Bus Messages
// ============================================================================
// Channel handlers announce state changes through a small, closed set of
// message kinds. The bus dispatches on Kind only; there is no open-ended
// message hierarchy.
// ============================================================================

// MessageKind identifies one of the fixed message variants.
type MessageKind uint8

const (
	// KindActivated is published when a channel goes from inactive to active.
	KindActivated MessageKind = iota + 1
	// KindDeactivated is published when a channel goes from active to inactive.
	KindDeactivated
	// KindUpdated is published after every sample a channel accepts.
	KindUpdated
)

// AllKinds lists every valid message kind in dispatch order.
var AllKinds = []MessageKind{KindActivated, KindDeactivated, KindUpdated}

func (k MessageKind) String() string {
	switch k {
	case KindActivated:
		return "activated"
	case KindDeactivated:
		return "deactivated"
	case KindUpdated:
		return "updated"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the known kinds.
func (k MessageKind) Valid() bool {
	return k >= KindActivated && k <= KindUpdated
}

// Message is a bus notification carrying the handler that produced it.
type Message struct {
	Kind   MessageKind
	Source *ChannelHandler
}

func (m Message) String() string {
	if m.Source == nil {
		return m.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", m.Kind, m.Source.Name())
}
