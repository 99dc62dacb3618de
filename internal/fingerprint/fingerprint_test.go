package fingerprint

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/feedbot/internal/model"
)

// mockFingerprintRepo はFingerprintRepositoryのモック実装。
// メモリ上のセットでInsertIfNewのアトミック性を再現する。
type mockFingerprintRepo struct {
	mu   sync.Mutex
	seen map[string]bool

	insertErr error
}

func newMockFingerprintRepo() *mockFingerprintRepo {
	return &mockFingerprintRepo{seen: make(map[string]bool)}
}

func (m *mockFingerprintRepo) InsertIfNew(ctx context.Context, sourceID, fp string, seenAt time.Time) (bool, error) {
	if m.insertErr != nil {
		return false, m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sourceID + "/" + fp
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *mockFingerprintRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDerive(t *testing.T) {
	published := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		guid        string
		link        string
		title       string
		publishedAt *time.Time
		wantGUID    bool
	}{
		{
			name:     "GUIDがあればGUIDを返す",
			guid:     "guid-123",
			link:     "https://example.com/a",
			title:    "title",
			wantGUID: true,
		},
		{
			name:        "GUIDがなければハッシュを返す",
			link:        "https://example.com/a",
			title:       "title",
			publishedAt: &published,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Derive(tt.guid, tt.link, tt.title, tt.publishedAt)
			if tt.wantGUID {
				if got != tt.guid {
					t.Errorf("Derive() = %v, want %v", got, tt.guid)
				}
				return
			}
			if len(got) != 64 {
				t.Errorf("Derive() length = %d, want 64 (sha256 hex)", len(got))
			}
		})
	}
}

func TestDerive_Deterministic(t *testing.T) {
	published := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	first := Derive("", "https://example.com/a", "title", &published)
	second := Derive("", "https://example.com/a", "title", &published)
	if first != second {
		t.Errorf("Derive is not deterministic: %v != %v", first, second)
	}

	other := Derive("", "https://example.com/a", "other title", &published)
	if first == other {
		t.Error("Derive returned same fingerprint for different titles")
	}
}

func TestStore_Filter_PassesOnlyNewItems(t *testing.T) {
	repo := newMockFingerprintRepo()
	store := NewStore(repo, testLogger())

	items := []model.Item{
		{Fingerprint: "fp-1", Title: "a"},
		{Fingerprint: "fp-2", Title: "b"},
		{Fingerprint: "fp-3", Title: "c"},
	}

	// 1回目: 全件新着
	fresh, err := store.Filter(context.Background(), "src-1", items)
	if err != nil {
		t.Fatalf("Filter() error = %v", err)
	}
	if len(fresh) != 3 {
		t.Errorf("first Filter() returned %d items, want 3", len(fresh))
	}

	// 2回目: 同一入力は全件配信済み（冪等）
	fresh, err = store.Filter(context.Background(), "src-1", items)
	if err != nil {
		t.Fatalf("Filter() error = %v", err)
	}
	if len(fresh) != 0 {
		t.Errorf("second Filter() returned %d items, want 0", len(fresh))
	}
}

func TestStore_Filter_IndependentPerSource(t *testing.T) {
	repo := newMockFingerprintRepo()
	store := NewStore(repo, testLogger())

	items := []model.Item{{Fingerprint: "fp-1"}}

	if _, err := store.Filter(context.Background(), "src-1", items); err != nil {
		t.Fatalf("Filter() error = %v", err)
	}

	// 別ソースの同一フィンガープリントは新着扱い
	fresh, err := store.Filter(context.Background(), "src-2", items)
	if err != nil {
		t.Fatalf("Filter() error = %v", err)
	}
	if len(fresh) != 1 {
		t.Errorf("Filter() for other source returned %d items, want 1", len(fresh))
	}
}

func TestStore_Filter_ConcurrentInsertWinsOnce(t *testing.T) {
	repo := newMockFingerprintRepo()
	store := NewStore(repo, testLogger())

	items := []model.Item{{Fingerprint: "fp-concurrent"}}

	const workers = 8
	results := make(chan int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fresh, err := store.Filter(context.Background(), "src-1", items)
			if err != nil {
				t.Errorf("Filter() error = %v", err)
				results <- 0
				return
			}
			results <- len(fresh)
		}()
	}
	wg.Wait()
	close(results)

	total := 0
	for n := range results {
		total += n
	}
	if total != 1 {
		t.Errorf("total fresh across concurrent workers = %d, want exactly 1", total)
	}
}
