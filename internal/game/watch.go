package game

import (
	"context"
	"fmt"
	"strings"

	"tycoon/internal/store"
)

const (
	TopicMarket     = "market"
	TopicEvents     = "events"
	TopicSyndicates = "syndicates"
	TopicChat       = "chat"
	TopicAccount    = "account"
	TopicFarms      = "farms"
	TopicCompanion  = "companion"
	TopicNeon       = "neon"
)

// WatchTopics lists every topic Watch accepts.
var WatchTopics = []string{
	TopicMarket, TopicEvents, TopicSyndicates, TopicChat,
	TopicAccount, TopicFarms, TopicCompanion, TopicNeon,
}

// watchPrefix maps a topic to the store prefix the account may observe.
func (s *Service) watchPrefix(ctx context.Context, accountID, topic string) (string, error) {
	switch topic {
	case TopicMarket:
		return marketKey, nil
	case TopicEvents:
		return heistKey, nil
	case TopicSyndicates:
		return syndicatesPrefix, nil
	case TopicChat:
		m, ok, err := loadMembership(ctx, s.store, accountID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("%w: join a syndicate to follow its chat", ErrNotEligible)
		}
		return chatPrefix(m.SyndicateID), nil
	case TopicAccount:
		return accountKey(accountID), nil
	case TopicFarms:
		return farmsPrefix(accountID), nil
	case TopicCompanion:
		return companionKey(accountID), nil
	case TopicNeon:
		return neonMessagesPrefix(accountID), nil
	default:
		return "", fmt.Errorf("%w: unknown topic %q", ErrInvalidInput, topic)
	}
}

// Watch streams changes for one topic until ctx is done. Account scoped
// topics only ever expose the caller's own documents.
func (s *Service) Watch(ctx context.Context, accountID, topic string) (<-chan store.Change, error) {
	prefix, err := s.watchPrefix(ctx, accountID, strings.TrimSpace(topic))
	if err != nil {
		return nil, err
	}
	changes, err := s.store.Subscribe(ctx, prefix)
	if err != nil || strings.HasSuffix(prefix, "/") {
		return changes, err
	}
	// Single document topics: drop keys that merely share the prefix.
	out := make(chan store.Change)
	go func() {
		defer close(out)
		for c := range changes {
			if c.Key != prefix {
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
