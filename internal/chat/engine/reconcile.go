package engine

import (
	"sort"
	"strings"

	"github.com/peerline/peerline/internal/chat/domain"
)

// Merge folds one incoming server-confirmed message into the local list and
// returns the result in stable creation order. An optimistic placeholder is
// promoted in place when the incoming message matches it: by id, by client
// correlation id, or, failing both, by the first pending message with the
// same sender and content. At most one placeholder is consumed per call and
// the merged list never holds two messages with the same id.
func Merge(list []domain.ChatMessage, incoming domain.ChatMessage) []domain.ChatMessage {
	merged := make([]domain.ChatMessage, len(list))
	copy(merged, list)

	if at := matchIndex(merged, incoming); at >= 0 {
		merged[at] = incoming
	} else {
		merged = append(merged, incoming)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	return merged
}

func matchIndex(list []domain.ChatMessage, incoming domain.ChatMessage) int {
	for i, message := range list {
		if message.ID == incoming.ID {
			return i
		}
	}

	clientID := strings.TrimSpace(incoming.ClientMessageID)
	if clientID != "" {
		for i, message := range list {
			if message.Pending && message.ClientMessageID == clientID {
				return i
			}
		}
	}

	// Fallback for servers that do not echo the correlation id: the first
	// pending message with the same sender and content is the placeholder.
	for i, message := range list {
		if message.Pending && message.SenderID == incoming.SenderID && message.Content == incoming.Content {
			return i
		}
	}
	return -1
}
