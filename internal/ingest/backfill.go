package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"guildcache/internal/metrics"
	"guildcache/internal/store"
)

const (
	backfillPageSize = 100
	pageInterval     = 250 * time.Millisecond
)

// Backfiller pulls the most recent retention window of history for a
// channel or thread, newest page first, and stores whatever falls inside
// the window. Pages are paced through a shared limiter so a burst of
// containers does not hammer the upstream API.
type Backfiller struct {
	store  *store.Store
	ex     *Executor
	window time.Duration
	pace   *rate.Limiter
	now    func() time.Time
}

// NewBackfiller creates a backfiller bound to one guild's store.
func NewBackfiller(st *store.Store, ex *Executor, window time.Duration) *Backfiller {
	return &Backfiller{
		store:  st,
		ex:     ex,
		window: window,
		pace:   rate.NewLimiter(rate.Every(pageInterval), 1),
		now:    time.Now,
	}
}

// Run paginates backwards through the container's history until it
// reaches the window boundary, the start of history, or a terminal
// fetch failure. A failure keeps whatever was stored so far.
func (b *Backfiller) Run(ctx context.Context, api Upstream, channelID string) {
	cutoff := b.now().Add(-b.window)
	stored := 0
	before := ""

	for {
		page, ok := Do(ctx, b.ex, "backfill:"+channelID, func() ([]*discordgo.Message, error) {
			return api.ChannelMessages(channelID, backfillPageSize, before, "", "")
		})
		if !ok {
			slog.Warn("Backfill aborted, keeping partial history",
				"channel_id", channelID,
				"stored", stored)
			return
		}
		if len(page) == 0 {
			break
		}

		// Pages arrive newest first; anything past the cutoff marks the
		// window boundary and ends pagination after this page.
		crossedWindow := false
		batch := make([]store.Message, 0, len(page))
		for _, m := range page {
			if m.Timestamp.Before(cutoff) {
				crossedWindow = true
				continue
			}
			batch = append(batch, convertMessage(m))
		}
		b.store.AddMessages(channelID, batch)
		stored += len(batch)
		metrics.BackfillPages.Inc()
		metrics.BackfillMessages.Add(float64(len(batch)))

		if crossedWindow || len(page) < backfillPageSize {
			break
		}

		before = page[len(page)-1].ID
		if err := b.pace.Wait(ctx); err != nil {
			return
		}
	}

	slog.Info("Backfill complete", "channel_id", channelID, "stored", stored)
}
