package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/migadu/mailfeed/consts"
	"github.com/migadu/mailfeed/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBucketDomain = "rss.bucket.com"
	testFeedKey      = "sender-domain-com.xml"
	testFeedURL      = "https://rss.bucket.com/sender-domain-com.xml"
)

type recordingNotifier struct {
	mu    sync.Mutex
	store *testutils.MemoryBlobStore
	urls  []string
	// feedStored records whether the feed document existed when notified.
	feedStored []bool
	err        error
}

func (n *recordingNotifier) NotifyNewFeed(ctx context.Context, feedURL string, f *Feed) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls = append(n.urls, feedURL)
	n.feedStored = append(n.feedStored, n.store.Has(testFeedKey))
	return n.err
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *testutils.MemoryBlobStore, *recordingNotifier) {
	t.Helper()
	if cfg.BucketDomain == "" {
		cfg.BucketDomain = testBucketDomain
	}
	store := testutils.NewMemoryBlobStore()
	notifier := &recordingNotifier{store: store}
	engine := NewEngine(cfg, store, notifier)
	engine.SetClock(func() time.Time { return testTime })
	return engine, store, notifier
}

func defaultTestConfig() Config {
	return Config{MaxBytes: 1 << 20, MaxEntries: 20}
}

func testEmail(messageID string) *Email {
	return &Email{
		From:      Address{Name: "Sender", Address: "sender@domain.com"},
		Subject:   "Subject " + messageID,
		MessageID: "<" + messageID + ">",
		HTML:      "<p>Email body.</p>",
	}
}

func storedFeed(t *testing.T, store *testutils.MemoryBlobStore) *Feed {
	t.Helper()
	data, ok := store.GetStoredData(testFeedKey)
	require.True(t, ok, "feed document not stored")
	f, err := Unmarshal(data)
	require.NoError(t, err)
	return f
}

func TestProcessFirstMessageCreatesFeed(t *testing.T) {
	engine, store, notifier := newTestEngine(t, defaultTestConfig())

	res, err := engine.Process(context.Background(), testEmail("message-id"))
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, testFeedKey, res.FeedKey)
	assert.Equal(t, testFeedURL, res.FeedURL)
	assert.Equal(t, "urn:domain-com:message-id", res.EntryID)
	assert.Equal(t, "domain.com/sender/message-id.html", res.CompanionKey)
	assert.Empty(t, res.Evicted)
	assert.NoError(t, res.DeleteErr)
	assert.NoError(t, res.NotifyErr)

	assert.Equal(t, []string{"domain.com/sender/message-id.html", testFeedKey}, store.GetStoredKeys())
	assert.Equal(t, consts.ContentTypeAtom, store.ContentType(testFeedKey))
	assert.Equal(t, consts.ContentTypeHTML, store.ContentType("domain.com/sender/message-id.html"))
	companion, _ := store.GetStoredData("domain.com/sender/message-id.html")
	assert.Equal(t, "<p>Email body.</p>", string(companion))

	f := storedFeed(t, store)
	assert.Equal(t, "urn:domain-com:sender", f.ID)
	assert.Equal(t, "Sender", f.Title)
	assert.Equal(t, "https://s2.googleusercontent.com/s2/favicons?domain=domain.com&sz=32", f.Icon)
	assert.Equal(t, []Link{
		{Href: "https://domain.com", Rel: "alternate", Type: "text/html"},
		{Href: testFeedURL, Rel: "self", Type: "application/atom+xml"},
	}, f.Links)
	require.Len(t, f.Entries, 1)
	assert.Equal(t, "urn:domain-com:message-id", f.Entries[0].ID)
	assert.Equal(t, "Subject message-id", f.Entries[0].Title)
	assert.Equal(t, []Link{
		{Href: "https://rss.bucket.com/domain.com/sender/message-id.html", Rel: "alternate", Type: "text/html"},
	}, f.Entries[0].Links)
	assert.Equal(t, "2025-03-01T09:30:00.123Z", f.Updated.String())

	assert.Equal(t, []string{testFeedURL}, notifier.urls)
	assert.Equal(t, []bool{true}, notifier.feedStored, "notification must follow the feed write")
	assert.Equal(t, len(storedBytes(store)), res.Size)
}

func storedBytes(store *testutils.MemoryBlobStore) []byte {
	data, _ := store.GetStoredData(testFeedKey)
	return data
}

func TestProcessSecondMessagePrepends(t *testing.T) {
	engine, store, notifier := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()

	_, err := engine.Process(ctx, testEmail("message-id"))
	require.NoError(t, err)
	res, err := engine.Process(ctx, testEmail("message-id2"))
	require.NoError(t, err)

	assert.False(t, res.Created)
	f := storedFeed(t, store)
	assert.Equal(t, []string{"urn:domain-com:message-id2", "urn:domain-com:message-id"}, ids(f.Entries))
	assert.Len(t, notifier.urls, 1, "only the first message notifies")
	assert.True(t, store.Has("domain.com/sender/message-id.html"))
	assert.True(t, store.Has("domain.com/sender/message-id2.html"))
	assert.Empty(t, store.CallsFor(testutils.OpDelete))
}

func TestProcessNewEntryExceedingByteLimit(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxBytes = 0
	engine, store, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	res, err := engine.Process(ctx, testEmail("message-id"))
	require.NoError(t, err)
	assert.Empty(t, res.Evicted)
	assert.Equal(t, []string{"urn:domain-com:message-id"}, ids(storedFeed(t, store).Entries))
	assert.Empty(t, store.CallsFor(testutils.OpDelete))

	res, err = engine.Process(ctx, testEmail("message-id2"))
	require.NoError(t, err)

	assert.Equal(t, []string{"urn:domain-com:message-id"}, ids(res.Evicted))
	assert.Equal(t, []string{"urn:domain-com:message-id2"}, ids(storedFeed(t, store).Entries))
	assert.False(t, store.Has("domain.com/sender/message-id.html"))
	assert.True(t, store.Has("domain.com/sender/message-id2.html"))

	deletes := store.CallsFor(testutils.OpDelete)
	require.Len(t, deletes, 1)
	assert.Equal(t, []string{"domain.com/sender/message-id.html"}, deletes[0].Keys)
}

func TestProcessListPostSkipsCompanion(t *testing.T) {
	engine, store, _ := newTestEngine(t, defaultTestConfig())

	email := testEmail("message-id")
	email.Headers = Headers{
		{Key: "List-Post", Value: "<https://example.substack.com/p/post>"},
		{Key: "List-URL", Value: "<https://example.substack.com>"},
	}
	res, err := engine.Process(context.Background(), email)
	require.NoError(t, err)

	assert.Empty(t, res.CompanionKey)
	assert.Equal(t, []string{testFeedKey}, store.GetStoredKeys())
	puts := store.CallsFor(testutils.OpPut)
	require.Len(t, puts, 1)
	assert.Equal(t, []string{testFeedKey}, puts[0].Keys)

	f := storedFeed(t, store)
	assert.Equal(t, "https://example.substack.com", f.Links[0].Href)
	assert.Equal(t, "https://s2.googleusercontent.com/s2/favicons?domain=example.substack.com&sz=128", f.Logo)
	assert.Equal(t, []Link{
		{Href: "https://example.substack.com/p/post", Rel: "alternate", Type: "text/html"},
	}, f.Entries[0].Links)
}

func TestProcessTextOnlyMessage(t *testing.T) {
	engine, store, _ := newTestEngine(t, defaultTestConfig())

	email := testEmail("message-id")
	email.HTML = ""
	email.Text = "Plain body"
	res, err := engine.Process(context.Background(), email)
	require.NoError(t, err)

	assert.Equal(t, "domain.com/sender/message-id.txt", res.CompanionKey)
	assert.Equal(t, consts.ContentTypeText, store.ContentType(res.CompanionKey))

	entry := storedFeed(t, store).Entries[0]
	assert.Equal(t, &Content{Kind: ContentText, Body: "Plain body"}, entry.Content)
	assert.Equal(t, "text/plain", entry.Links[0].Type)
}

func TestProcessRedeliveryReplacesEntry(t *testing.T) {
	for prior := 0; prior < 4; prior++ {
		t.Run(fmt.Sprintf("position %d", prior), func(t *testing.T) {
			engine, store, _ := newTestEngine(t, defaultTestConfig())
			ctx := context.Background()

			// Feed holds m3, m2, m1, m0 (newest first).
			for i := 0; i < 4; i++ {
				_, err := engine.Process(ctx, testEmail(fmt.Sprintf("m%d", i)))
				require.NoError(t, err)
			}

			dup := testEmail(fmt.Sprintf("m%d", prior))
			dup.Subject = "Updated"
			_, err := engine.Process(ctx, dup)
			require.NoError(t, err)

			f := storedFeed(t, store)
			require.Len(t, f.Entries, 4)
			assert.Equal(t, fmt.Sprintf("urn:domain-com:m%d", prior), f.Entries[0].ID)
			assert.Equal(t, "Updated", f.Entries[0].Title)

			seen := map[string]int{}
			for _, e := range f.Entries {
				seen[e.ID]++
			}
			for id, n := range seen {
				assert.Equal(t, 1, n, "entry %s duplicated", id)
			}
		})
	}
}

func TestProcessEnforcesEntryLimit(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxEntries = 2
	engine, store, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := engine.Process(ctx, testEmail(fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"urn:domain-com:m3", "urn:domain-com:m2"}, ids(storedFeed(t, store).Entries))
	assert.False(t, store.Has("domain.com/sender/m1.html"))
	assert.True(t, store.Has("domain.com/sender/m2.html"))
	assert.True(t, store.Has("domain.com/sender/m3.html"))
}

func TestProcessRetentionHoldsAfterEveryMessage(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxBytes = 100
	cfg.MaxEntries = 4
	engine, store, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		email := testEmail(fmt.Sprintf("m%d", i))
		email.HTML = fmt.Sprintf("<p>%0*d</p>", 10+i*3, i)
		_, err := engine.Process(ctx, email)
		require.NoError(t, err)

		f := storedFeed(t, store)
		assert.LessOrEqual(t, len(f.Entries), cfg.MaxEntries)
		assert.LessOrEqual(t, totalSize(f.Entries), cfg.MaxBytes)
		assert.Equal(t, fmt.Sprintf("urn:domain-com:m%d", i), f.Entries[0].ID)

		// Every kept entry still has its companion; nothing else remains.
		want := []string{testFeedKey}
		for _, e := range f.Entries {
			want = append(want, CompanionKey(SenderIdentity{LocalPart: "sender", Domain: "domain.com"}, e))
		}
		assert.ElementsMatch(t, want, store.GetStoredKeys())
	}
}

func TestProcessDisabledLimitsKeepEverything(t *testing.T) {
	engine, store, _ := newTestEngine(t, Config{MaxBytes: -1, MaxEntries: 1})
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		_, err := engine.Process(ctx, testEmail(fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}
	assert.Len(t, storedFeed(t, store).Entries, 30)
	assert.Empty(t, store.CallsFor(testutils.OpDelete))
}

func TestProcessOperationOrder(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxEntries = 1
	engine, store, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	_, err := engine.Process(ctx, testEmail("m1"))
	require.NoError(t, err)
	store.ResetCalls()

	_, err = engine.Process(ctx, testEmail("m2"))
	require.NoError(t, err)

	assert.Equal(t, []testutils.Call{
		{Op: testutils.OpGet, Keys: []string{testFeedKey}},
		{Op: testutils.OpPut, Keys: []string{"domain.com/sender/m2.html"}},
		{Op: testutils.OpPut, Keys: []string{testFeedKey}},
		{Op: testutils.OpDelete, Keys: []string{"domain.com/sender/m1.html"}},
	}, store.Calls())
}

func TestProcessEvictsCompanionOfAliasedSender(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.BucketDomain = "rss.bucket.com"
	cfg.MaxEntries = 1
	engine, store, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	first := testEmail("m1")
	first.From = Address{Address: "a.b@x.com"}
	res, err := engine.Process(ctx, first)
	require.NoError(t, err)
	require.Equal(t, "x.com/a.b/m1.html", res.CompanionKey)

	second := testEmail("m2")
	second.From = Address{Address: "a-b@x.com"}
	res, err = engine.Process(ctx, second)
	require.NoError(t, err)
	require.Equal(t, "a-b-x-com.xml", res.FeedKey)
	require.NoError(t, res.DeleteErr)

	assert.Equal(t, []string{"urn:x-com:m1"}, ids(res.Evicted))
	assert.False(t, store.Has("x.com/a.b/m1.html"))
	assert.True(t, store.Has("x.com/a-b/m2.html"))
	assert.ElementsMatch(t, []string{"a-b-x-com.xml", "x.com/a-b/m2.html"}, store.GetStoredKeys())
}

func TestProcessEvictingExternalEntrySkipsDelete(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxEntries = 1
	engine, store, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	external := testEmail("m1")
	external.Headers = Headers{{Key: "List-Post", Value: "<https://example.substack.com/p/post>"}}
	_, err := engine.Process(ctx, external)
	require.NoError(t, err)

	res, err := engine.Process(ctx, testEmail("m2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"urn:domain-com:m1"}, ids(res.Evicted))
	assert.NoError(t, res.DeleteErr)
	assert.Empty(t, store.CallsFor(testutils.OpDelete))
}

func TestProcessRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Email)
		wantErr error
	}{
		{"missing sender", func(e *Email) { e.From = Address{} }, consts.ErrMissingSender},
		{"sender without domain", func(e *Email) { e.From = Address{Address: "sender"} }, consts.ErrMissingSender},
		{"missing content", func(e *Email) { e.HTML = ""; e.Text = "" }, consts.ErrMissingContent},
		{"whitespace content", func(e *Email) { e.HTML = " \r\n"; e.Text = "\t" }, consts.ErrMissingContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, store, notifier := newTestEngine(t, defaultTestConfig())
			email := testEmail("message-id")
			tt.modify(email)

			res, err := engine.Process(context.Background(), email)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, res)
			assert.Empty(t, store.Calls())
			assert.Empty(t, notifier.urls)
		})
	}
}

func TestProcessMalformedFeedIsNotOverwritten(t *testing.T) {
	engine, store, notifier := newTestEngine(t, defaultTestConfig())
	store.Seed(testFeedKey, []byte("<feed>broken"), consts.ContentTypeAtom)

	_, err := engine.Process(context.Background(), testEmail("message-id"))
	require.ErrorIs(t, err, consts.ErrMalformedFeed)

	assert.Equal(t, "<feed>broken", string(storedBytes(store)))
	assert.Empty(t, store.CallsFor(testutils.OpPut))
	assert.Empty(t, notifier.urls)
}

func TestProcessReadFailureIsFatal(t *testing.T) {
	engine, store, _ := newTestEngine(t, defaultTestConfig())
	boom := errors.New("connection reset")
	store.SetError(testFeedKey, boom)

	_, err := engine.Process(context.Background(), testEmail("message-id"))
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, consts.ErrObjectNotFound)
	assert.Empty(t, store.CallsFor(testutils.OpPut))
}

func TestProcessCompanionUploadFailureIsFatal(t *testing.T) {
	engine, store, notifier := newTestEngine(t, defaultTestConfig())
	boom := errors.New("upload refused")
	store.SetError("domain.com/sender/message-id.html", boom)

	_, err := engine.Process(context.Background(), testEmail("message-id"))
	require.ErrorIs(t, err, boom)
	assert.False(t, store.Has(testFeedKey))
	assert.Empty(t, notifier.urls)
}

// feedWriteFailure fails every Put of the feed document.
type feedWriteFailure struct {
	*testutils.MemoryBlobStore
	err error
}

func (s *feedWriteFailure) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if key == testFeedKey {
		return s.err
	}
	return s.MemoryBlobStore.Put(ctx, key, data, contentType)
}

func TestProcessFeedWriteFailureIsFatal(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.BucketDomain = testBucketDomain
	cfg.MaxEntries = 1
	mem := testutils.NewMemoryBlobStore()
	ctx := context.Background()

	_, err := NewEngine(cfg, mem, nil).Process(ctx, testEmail("m1"))
	require.NoError(t, err)
	before := storedBytes(mem)

	boom := errors.New("bucket read-only")
	notifier := &recordingNotifier{store: mem}
	engine := NewEngine(cfg, &feedWriteFailure{MemoryBlobStore: mem, err: boom}, notifier)

	_, err = engine.Process(ctx, testEmail("m2"))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, before, storedBytes(mem))
	assert.True(t, mem.Has("domain.com/sender/m1.html"), "nothing is deleted when the feed was not written")
	assert.Empty(t, mem.CallsFor(testutils.OpDelete))
	assert.Empty(t, notifier.urls)
}

func TestProcessDeleteFailureIsSwallowed(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxEntries = 1
	engine, store, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	_, err := engine.Process(ctx, testEmail("m1"))
	require.NoError(t, err)

	boom := errors.New("delete denied")
	store.SetDeleteError(boom)
	res, err := engine.Process(ctx, testEmail("m2"))
	require.NoError(t, err)

	assert.ErrorIs(t, res.DeleteErr, boom)
	assert.Equal(t, []string{"urn:domain-com:m2"}, ids(storedFeed(t, store).Entries))
}

func TestProcessNotifyFailureIsSwallowed(t *testing.T) {
	engine, store, notifier := newTestEngine(t, defaultTestConfig())
	notifier.err = errors.New("pushover down")

	res, err := engine.Process(context.Background(), testEmail("message-id"))
	require.NoError(t, err)

	assert.ErrorIs(t, res.NotifyErr, notifier.err)
	assert.True(t, store.Has(testFeedKey))
}

func TestProcessWithoutNotifier(t *testing.T) {
	store := testutils.NewMemoryBlobStore()
	engine := NewEngine(Config{BucketDomain: testBucketDomain, MaxBytes: -1, MaxEntries: -1}, store, nil)

	res, err := engine.Process(context.Background(), testEmail("message-id"))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.NoError(t, res.NotifyErr)
}

func TestProcessFeedIDSurvivesRebuild(t *testing.T) {
	engine, store, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()

	first := testEmail("m1")
	_, err := engine.Process(ctx, first)
	require.NoError(t, err)

	second := testEmail("m2")
	second.From.Name = "Renamed Sender"
	second.From.Address = "sender+promo@domain.com"
	second.Headers = Headers{{Key: "List-URL", Value: "<https://elsewhere.test>"}}
	_, err = engine.Process(ctx, second)
	require.NoError(t, err)

	f := storedFeed(t, store)
	assert.Equal(t, "urn:domain-com:sender", f.ID)
	assert.Equal(t, "Renamed Sender", f.Title)
	assert.Len(t, f.Entries, 2)
}

func TestProcessWithoutMessageID(t *testing.T) {
	engine, store, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()

	email := testEmail("")
	email.MessageID = ""
	email.Raw = []byte("Subject: x\r\n\r\nbody")

	first, err := engine.Process(ctx, email)
	require.NoError(t, err)
	second, err := engine.Process(ctx, email)
	require.NoError(t, err)

	assert.Equal(t, first.EntryID, second.EntryID)
	assert.Len(t, storedFeed(t, store).Entries, 1)
}

func TestProcessExcerptSummary(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.Summary = SummaryExcerpt
	cfg.ExcerptLength = 5
	engine, store, _ := newTestEngine(t, cfg)

	_, err := engine.Process(context.Background(), testEmail("message-id"))
	require.NoError(t, err)
	assert.Equal(t, "Email…", storedFeed(t, store).Entries[0].Summary)
}

func TestProcessPrettyXML(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.PrettyXML = true
	engine, store, _ := newTestEngine(t, cfg)

	_, err := engine.Process(context.Background(), testEmail("message-id"))
	require.NoError(t, err)
	assert.Contains(t, string(storedBytes(store)), "\n  <id>urn:domain-com:sender</id>")
}
