// Package feed turns inbound messages into per-sender Atom feeds.
//
// For every message the Engine loads the sender's feed document, adds the new
// entry (replacing an older copy with the same id), trims the oldest entries
// until the configured size and count limits hold, rebuilds the feed-level
// fields and writes the document back with a single Put. Entries without an
// external link get a companion page uploaded next to the feed. Companion
// pages of evicted entries are deleted after the feed is written. The first
// message from a sender also triggers a notification.
//
// Deleting companions and notifying are best-effort: their failures are
// logged and returned in Result, never as the error of Process.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/migadu/mailfeed/consts"
	"github.com/migadu/mailfeed/logger"
	"github.com/migadu/mailfeed/pkg/metrics"
)

// BlobStore is keyed object storage. Get returns an error wrapping
// consts.ErrObjectNotFound for missing keys; DeleteMany ignores them.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	DeleteMany(ctx context.Context, keys []string) error
}

// Notifier announces newly created feeds.
type Notifier interface {
	NotifyNewFeed(ctx context.Context, feedURL string, feed *Feed) error
}

// Config holds the engine settings. A negative MaxBytes or MaxEntries
// disables retention trimming.
type Config struct {
	BucketDomain  string
	MaxBytes      int64
	MaxEntries    int
	PrettyXML     bool
	Summary       SummaryMode
	ExcerptLength int
}

// Result describes a completed update.
type Result struct {
	FeedKey      string
	FeedURL      string
	EntryID      string
	Created      bool   // no feed existed before this message
	CompanionKey string // empty when the entry links elsewhere
	Evicted      []Entry
	Feed         *Feed
	Size         int // bytes written for the feed document

	// Failures of best-effort steps.
	DeleteErr error
	NotifyErr error
}

type Engine struct {
	cfg      Config
	store    BlobStore
	notifier Notifier
	now      func() time.Time
}

// NewEngine creates an engine. notifier may be nil.
func NewEngine(cfg Config, store BlobStore, notifier Notifier) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Process adds email to its sender's feed. Errors are returned for rejected
// input (consts.ErrMissingSender, consts.ErrMissingContent), for a feed that
// cannot be read or parsed, and for failed uploads. In those cases the
// published feed is unchanged.
func (e *Engine) Process(ctx context.Context, email *Email) (*Result, error) {
	identity, err := NewSenderIdentity(email.From)
	if err != nil {
		return nil, err
	}
	body, kind := email.Body()
	if body == "" {
		return nil, consts.ErrMissingContent
	}

	now := e.now()
	feedKey := FeedKey(identity)
	res := &Result{
		FeedKey: feedKey,
		FeedURL: PublicURL(e.cfg.BucketDomain, feedKey),
	}

	prior, err := e.loadFeed(ctx, feedKey)
	if err != nil {
		return nil, err
	}
	res.Created = prior == nil

	messageKey := MessageKey(email)
	entry := BuildEntry(EntryParams{
		Identity:      identity,
		Email:         email,
		MessageKey:    messageKey,
		Now:           now,
		Links:         ResolveEntryLinks(email.Headers),
		Summary:       e.cfg.Summary,
		ExcerptLength: e.cfg.ExcerptLength,
	})
	res.EntryID = entry.ID

	// Some readers reject entries without a link, so host the content.
	if len(entry.Links) == 0 {
		key, err := e.uploadCompanion(ctx, identity, entry, kind)
		if err != nil {
			return nil, err
		}
		res.CompanionKey = key
		entry.Links = []Link{{Href: PublicURL(e.cfg.BucketDomain, key), Rel: consts.RelAlternate, Type: linkType(kind)}}
	}

	var existing []Entry
	if prior != nil {
		existing = prior.Entries
	}
	merged := MergeEntry(existing, entry)
	trimmed := Trim(merged, e.cfg.MaxBytes, e.cfg.MaxEntries)

	kept, evicted := trimmed.Kept, trimmed.Evicted
	if len(kept) == 0 {
		// The new entry alone exceeds a limit. Publish it anyway; it is the
		// last evicted and keeps its companion.
		kept = merged[:1]
		evicted = evicted[:len(evicted)-1]
	}
	res.Evicted = evicted

	f := BuildFeed(FeedParams{
		Identity:     identity,
		Headers:      email.Headers,
		BucketDomain: e.cfg.BucketDomain,
		FeedKey:      feedKey,
		Now:          now,
		Entries:      kept,
	})
	res.Feed = f

	data, err := Marshal(f, e.cfg.PrettyXML)
	if err != nil {
		return nil, err
	}
	if err := e.store.Put(ctx, feedKey, data, consts.ContentTypeAtom); err != nil {
		return nil, fmt.Errorf("failed to write feed %s: %w", feedKey, err)
	}
	res.Size = len(data)
	metrics.FeedSizeBytes.Observe(float64(len(data)))
	metrics.FeedEntries.Observe(float64(len(kept)))

	if len(evicted) > 0 {
		res.DeleteErr = e.deleteCompanions(ctx, evicted)
	}

	if res.Created {
		res.NotifyErr = e.notify(ctx, res.FeedURL, f)
	}

	logger.InfoContext(ctx, "FEED: Updated feed",
		"feed", feedKey,
		"entry", entry.ID,
		"created", res.Created,
		"entries", len(kept),
		"evicted", len(evicted),
		"bytes", len(data))
	return res, nil
}

func (e *Engine) loadFeed(ctx context.Context, key string) (*Feed, error) {
	data, err := e.store.Get(ctx, key)
	if errors.Is(err, consts.ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read feed %s: %w", key, err)
	}

	f, err := Unmarshal(data)
	if err != nil {
		logger.ErrorContext(ctx, "FEED: Stored feed cannot be parsed, refusing to overwrite", "feed", key, "error", err)
		return nil, fmt.Errorf("feed %s: %w", key, err)
	}
	return f, nil
}

func (e *Engine) uploadCompanion(ctx context.Context, identity SenderIdentity, entry Entry, kind string) (string, error) {
	key := CompanionKey(identity, entry)
	contentType := consts.ContentTypeText
	if kind == ContentHTML {
		contentType = consts.ContentTypeHTML
	}

	if err := e.store.Put(ctx, key, []byte(entry.Content.Body), contentType); err != nil {
		metrics.CompanionOperations.WithLabelValues("upload", "error").Inc()
		return "", fmt.Errorf("failed to upload companion %s: %w", key, err)
	}
	metrics.CompanionOperations.WithLabelValues("upload", "success").Inc()
	logger.DebugContext(ctx, "FEED: Uploaded companion", "key", key)
	return key, nil
}

// deleteCompanions removes the companion of every evicted entry. The key is
// taken from the entry's own link since an earlier sender address may map to
// the same feed under a different local part. Entries that link elsewhere
// never had a companion.
func (e *Engine) deleteCompanions(ctx context.Context, evicted []Entry) error {
	metrics.EntriesEvicted.Add(float64(len(evicted)))

	keys := make([]string, 0, len(evicted))
	for _, entry := range evicted {
		if key, ok := StoredCompanionKey(e.cfg.BucketDomain, entry); ok {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}

	if err := e.store.DeleteMany(ctx, keys); err != nil {
		metrics.CompanionOperations.WithLabelValues("delete", "error").Inc()
		logger.WarnContext(ctx, "FEED: Failed to delete evicted companions", "keys", keys, "error", err)
		return err
	}
	metrics.CompanionOperations.WithLabelValues("delete", "success").Inc()
	return nil
}

func (e *Engine) notify(ctx context.Context, feedURL string, f *Feed) error {
	if e.notifier == nil {
		return nil
	}
	if err := e.notifier.NotifyNewFeed(ctx, feedURL, f); err != nil {
		logger.WarnContext(ctx, "FEED: New feed notification failed", "feed_url", feedURL, "error", err)
		return err
	}
	logger.InfoContext(ctx, "FEED: Created new feed", "feed_url", feedURL)
	return nil
}

func linkType(kind string) string {
	if kind == ContentHTML {
		return consts.MimeHTML
	}
	return consts.MimeText
}
