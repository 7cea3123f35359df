package channels

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedChats caps the number of per-chat limiters so rotating chat IDs
// cannot exhaust memory.
const maxTrackedChats = 4096

// ChatLimiter enforces a per-chat outbound send rate (Telegram throttles
// bots at roughly one message per second per chat). Safe for concurrent use.
type ChatLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewChatLimiter creates a limiter allowing perSecond sends with the given
// burst per chat.
func NewChatLimiter(perSecond float64, burst int) *ChatLimiter {
	return &ChatLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

// Wait blocks until the chat may send again or the context is done.
func (l *ChatLimiter) Wait(ctx context.Context, chatID string) error {
	return l.limiter(chatID).Wait(ctx)
}

func (l *ChatLimiter) limiter(chatID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters[chatID]; ok {
		return lim
	}
	if len(l.limiters) >= maxTrackedChats {
		for k := range l.limiters {
			delete(l.limiters, k)
			break
		}
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters[chatID] = lim
	return lim
}
