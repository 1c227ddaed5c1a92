package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"guildcache/internal/metrics"
	"guildcache/internal/store"
)

// Engine owns one gateway connection and one store for a single guild.
// Live events flow straight into the store; on ready it backfills the
// last retention window of history and then sweeps expired messages on a
// fixed interval. Nothing here is fatal to the process: a guild that
// cannot be ingested is logged and left behind.
type Engine struct {
	guildID       string
	store         *store.Store
	ex            *Executor
	bf            *Backfiller
	api           Upstream
	pruneInterval time.Duration

	readyOnce sync.Once

	mu             sync.Mutex
	privateThreads map[string]struct{}
	parentTypes    map[string]discordgo.ChannelType
}

// NewEngine creates an engine for one guild. Run must be called to
// connect it.
func NewEngine(guildID string, st *store.Store, window, pruneInterval time.Duration) *Engine {
	ex := NewExecutor()
	return &Engine{
		guildID:        guildID,
		store:          st,
		ex:             ex,
		bf:             NewBackfiller(st, ex, window),
		pruneInterval:  pruneInterval,
		privateThreads: make(map[string]struct{}),
		parentTypes:    make(map[string]discordgo.ChannelType),
	}
}

// Run opens the gateway connection and blocks until ctx is cancelled.
// A login failure is returned to the caller; it must not crash the
// process, other guilds continue unaffected.
func (e *Engine) Run(ctx context.Context, token string) error {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent
	// The executor owns 429 handling; keep the library out of it.
	session.ShouldRetryOnRateLimit = false

	// Events start flowing the moment the connection opens
	e.api = session

	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		e.readyOnce.Do(func() {
			go e.onReady(ctx)
		})
	})
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		e.handleMessageCreate(m.Message)
	})
	session.AddHandler(func(s *discordgo.Session, t *discordgo.ThreadCreate) {
		go e.handleThreadCreate(ctx, t.Channel)
	})
	session.AddHandler(func(s *discordgo.Session, t *discordgo.ThreadUpdate) {
		e.handleThreadUpdate(t.Channel)
	})
	session.AddHandler(func(s *discordgo.Session, t *discordgo.ThreadDelete) {
		e.handleThreadDelete(t.Channel)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to open gateway connection: %w", err)
	}
	slog.Info("Gateway connection opened", "guild_id", e.guildID)

	<-ctx.Done()
	return session.Close()
}

// onReady resolves the guild, runs the one-time backfill sequence and
// starts the eviction sweeper. Errors along the way are logged and the
// live handlers keep running regardless.
func (e *Engine) onReady(ctx context.Context) {
	if _, ok := Do(ctx, e.ex, "guild:"+e.guildID, func() (*discordgo.Guild, error) {
		return e.api.Guild(e.guildID)
	}); !ok {
		slog.Error("Configured guild not reachable, ingestion disabled",
			"guild_id", e.guildID)
		return
	}

	e.bootstrap(ctx)
	go e.pruneLoop(ctx)
}

// bootstrap populates the store with the recent history the live stream
// missed: active threads first, then plain text channels.
func (e *Engine) bootstrap(ctx context.Context) {
	channels, ok := Do(ctx, e.ex, "channels:"+e.guildID, func() ([]*discordgo.Channel, error) {
		return e.api.GuildChannels(e.guildID)
	})
	if ok {
		e.mu.Lock()
		for _, ch := range channels {
			e.parentTypes[ch.ID] = ch.Type
		}
		e.mu.Unlock()
	}

	if threads, ok := Do(ctx, e.ex, "threads:"+e.guildID, func() (*discordgo.ThreadsList, error) {
		return e.api.GuildThreadsActive(e.guildID)
	}); ok {
		for _, th := range threads.Threads {
			if err := e.adoptThread(ctx, th); err != nil {
				slog.Error("Thread backfill failed",
					"guild_id", e.guildID,
					"thread_id", th.ID,
					"error", err)
			}
		}
	}

	for _, ch := range channels {
		// Forum parents hold no messages of their own; their content
		// lives in the threads adopted above.
		if ch.Type != discordgo.ChannelTypeGuildText && ch.Type != discordgo.ChannelTypeGuildNews {
			continue
		}
		e.bf.Run(ctx, e.api, ch.ID)
	}

	slog.Info("Startup backfill complete", "guild_id", e.guildID)
}

// adoptThread joins a thread, records forum metadata where applicable and
// backfills its recent history. Private threads are never touched.
func (e *Engine) adoptThread(ctx context.Context, th *discordgo.Channel) error {
	if th.Type == discordgo.ChannelTypeGuildPrivateThread {
		e.markPrivate(th.ID)
		return nil
	}

	if !doUnit(ctx, e.ex, "join:"+th.ID, func() error {
		return e.api.ThreadJoin(th.ID)
	}) {
		return fmt.Errorf("could not join thread %s", th.ID)
	}

	if e.isForumThread(ctx, th) {
		e.recordForumThread(ctx, th)
	}

	e.bf.Run(ctx, e.api, th.ID)
	return nil
}

// recordForumThread fetches the thread's starter message and derives its
// metadata from it. The starter message shares the thread's id.
func (e *Engine) recordForumThread(ctx context.Context, th *discordgo.Channel) {
	starter, ok := Do(ctx, e.ex, "starter:"+th.ID, func() (*discordgo.Message, error) {
		return e.api.ChannelMessage(th.ID, th.ID)
	})
	if !ok {
		return
	}

	msg := convertMessage(starter)
	e.store.AddMessage(th.ID, msg)
	e.store.AddForumThread(store.ThreadMeta{
		ID:        th.ID,
		Title:     th.Name,
		ParentID:  th.ParentID,
		CreatedBy: msg.AuthorTag,
		CreatedAt: msg.Timestamp,
	})
	slog.Info("Forum thread recorded",
		"guild_id", e.guildID,
		"thread_id", th.ID,
		"title", th.Name)
}

// handleMessageCreate appends a live message to the store.
func (e *Engine) handleMessageCreate(m *discordgo.Message) {
	if m.GuildID != e.guildID || e.isPrivate(m.ChannelID) {
		return
	}
	e.store.AddMessage(m.ChannelID, convertMessage(m))
	metrics.MessagesIngested.WithLabelValues(e.guildID, "live").Inc()
}

// handleThreadCreate reacts to a newly discovered thread. A forum thread
// contributes metadata; a conversational thread signals fresh activity in
// its parent channel, which gets re-backfilled instead.
func (e *Engine) handleThreadCreate(ctx context.Context, th *discordgo.Channel) {
	if th.GuildID != e.guildID {
		return
	}
	if th.Type == discordgo.ChannelTypeGuildPrivateThread {
		e.markPrivate(th.ID)
		return
	}

	slog.Info("Thread discovered",
		"guild_id", e.guildID,
		"thread_id", th.ID,
		"title", th.Name)

	if !doUnit(ctx, e.ex, "join:"+th.ID, func() error {
		return e.api.ThreadJoin(th.ID)
	}) {
		slog.Error("Could not join discovered thread",
			"guild_id", e.guildID,
			"thread_id", th.ID)
		return
	}

	if e.isForumThread(ctx, th) {
		e.recordForumThread(ctx, th)
		return
	}
	if th.ParentID != "" {
		e.bf.Run(ctx, e.api, th.ParentID)
	}
}

// handleThreadUpdate removes threads that were archived.
func (e *Engine) handleThreadUpdate(th *discordgo.Channel) {
	if th.GuildID != e.guildID {
		return
	}
	if th.ThreadMetadata != nil && th.ThreadMetadata.Archived {
		e.store.RemoveThread(th.ID)
		slog.Info("Archived thread removed",
			"guild_id", e.guildID,
			"thread_id", th.ID)
	}
}

// handleThreadDelete removes deleted threads unconditionally.
func (e *Engine) handleThreadDelete(th *discordgo.Channel) {
	if th.GuildID != e.guildID {
		return
	}
	e.store.RemoveThread(th.ID)
	e.mu.Lock()
	delete(e.privateThreads, th.ID)
	e.mu.Unlock()
	slog.Info("Deleted thread removed",
		"guild_id", e.guildID,
		"thread_id", th.ID)
}

// pruneLoop runs the eviction sweep on a fixed interval for the lifetime
// of the engine.
func (e *Engine) pruneLoop(ctx context.Context) {
	slog.Info("Starting eviction sweeper",
		"guild_id", e.guildID,
		"interval", e.pruneInterval)

	ticker := time.NewTicker(e.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Eviction sweeper stopped", "guild_id", e.guildID)
			return
		case <-ticker.C:
			dropped := e.store.PruneExpired()
			metrics.MessagesPruned.WithLabelValues(e.guildID).Add(float64(dropped))
			slog.Info("Eviction sweep complete",
				"guild_id", e.guildID,
				"dropped", dropped)
		}
	}
}

// isForumThread reports whether the thread's parent is a forum channel,
// consulting the cached channel types and falling back to a lookup for
// parents created after startup.
func (e *Engine) isForumThread(ctx context.Context, th *discordgo.Channel) bool {
	if th.ParentID == "" {
		return false
	}

	e.mu.Lock()
	parentType, known := e.parentTypes[th.ParentID]
	e.mu.Unlock()
	if known {
		return parentType == discordgo.ChannelTypeGuildForum
	}

	parent, ok := Do(ctx, e.ex, "channel:"+th.ParentID, func() (*discordgo.Channel, error) {
		return e.api.Channel(th.ParentID)
	})
	if !ok {
		return false
	}

	e.mu.Lock()
	e.parentTypes[parent.ID] = parent.Type
	e.mu.Unlock()
	return parent.Type == discordgo.ChannelTypeGuildForum
}

func (e *Engine) markPrivate(threadID string) {
	e.mu.Lock()
	e.privateThreads[threadID] = struct{}{}
	e.mu.Unlock()
}

func (e *Engine) isPrivate(channelID string) bool {
	e.mu.Lock()
	_, ok := e.privateThreads[channelID]
	e.mu.Unlock()
	return ok
}
