package comments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"inkshelf/api/internal/blobstore"
	"inkshelf/api/internal/codec"
	"inkshelf/api/internal/validation"
)

var chapterOne = Thread{NovelID: "the-lost-city", ChapterID: "1"}

func newTestService(store blobstore.Store, attempts int) *Service {
	svc := NewService(store, attempts)
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	seq := 0
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("c_%03d", seq)
	}
	return svc
}

func TestAddTopLevelCreatesThread(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemory()
	svc := newTestService(store, 1)

	empty, err := svc.List(ctx, chapterOne)
	if err != nil || len(empty) != 0 {
		t.Fatalf("List() on new thread = %v, %v", empty, err)
	}

	created, err := svc.AddTopLevel(ctx, chapterOne, NewComment{Author: "Ana", Body: "Great chapter!"})
	if err != nil {
		t.Fatalf("AddTopLevel() error = %v", err)
	}
	if obj, _ := store.Get(ctx, "the-lost-city/comments-1.json"); obj == nil {
		t.Fatal("expected the thread document to be created")
	}

	list, err := svc.List(ctx, chapterOne)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one comment, got %d", len(list))
	}
	got := list[0]
	if got.ID != created.ID || got.Author != "Ana" || got.Body != "Great chapter!" || got.Likes != 0 {
		t.Fatalf("unexpected comment: %+v", got)
	}
	if got.Replies == nil || len(got.Replies) != 0 {
		t.Fatalf("expected empty (non-nil) replies, got %#v", got.Replies)
	}
}

func TestReplyAndLike(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(blobstore.NewMemory(), 1)

	root, err := svc.AddTopLevel(ctx, chapterOne, NewComment{Author: "Ana", Body: "Great chapter!"})
	if err != nil {
		t.Fatalf("AddTopLevel() error = %v", err)
	}
	reply, err := svc.AddReply(ctx, chapterOne, root.ID, NewComment{Author: "Bo", Body: "Agreed"})
	if err != nil {
		t.Fatalf("AddReply() error = %v", err)
	}
	likes, err := svc.Like(ctx, chapterOne, root.ID)
	if err != nil || likes != 1 {
		t.Fatalf("Like() = %d, %v", likes, err)
	}

	list, _ := svc.List(ctx, chapterOne)
	if len(list) != 1 || list[0].Likes != 1 {
		t.Fatalf("unexpected roots: %+v", list)
	}
	if len(list[0].Replies) != 1 || list[0].Replies[0].ID != reply.ID || list[0].Replies[0].Likes != 0 {
		t.Fatalf("unexpected replies: %+v", list[0].Replies)
	}
}

func TestReplyErrors(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(blobstore.NewMemory(), 1)

	_, err := svc.AddReply(ctx, chapterOne, "c_999", NewComment{Author: "Bo", Body: "hi"})
	if !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("AddReply() on absent thread error = %v, want ErrThreadNotFound", err)
	}

	if _, err := svc.AddTopLevel(ctx, chapterOne, NewComment{Author: "Ana", Body: "first"}); err != nil {
		t.Fatalf("AddTopLevel() error = %v", err)
	}
	_, err = svc.AddReply(ctx, chapterOne, "c_999", NewComment{Author: "Bo", Body: "hi"})
	if !errors.Is(err, ErrParentNotFound) {
		t.Fatalf("AddReply() error = %v, want ErrParentNotFound", err)
	}
	if _, err := svc.Like(ctx, chapterOne, "c_999"); !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("Like() error = %v, want ErrCommentNotFound", err)
	}
	if _, err := svc.Like(ctx, Thread{NovelID: "the-lost-city", ChapterID: "2"}, "c_001"); !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("Like() on absent thread error = %v, want ErrCommentNotFound", err)
	}
}

func TestValidationHappensBeforeStoreCalls(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(failingStore{}, 1)

	cases := []struct {
		name   string
		thread Thread
		input  NewComment
	}{
		{"blank body", chapterOne, NewComment{Author: "Ana", Body: "   "}},
		{"blank author", chapterOne, NewComment{Author: "", Body: "hi"}},
		{"bad avatar", chapterOne, NewComment{Author: "Ana", Body: "hi", Avatar: "ftp://x"}},
		{"path escape", Thread{NovelID: "..", ChapterID: "1"}, NewComment{Author: "Ana", Body: "hi"}},
		{"user collection", Thread{NovelID: "users", ChapterID: "1"}, NewComment{Author: "Ana", Body: "hi"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.AddTopLevel(ctx, tc.thread, tc.input)
			if !errors.Is(err, validation.ErrInvalid) {
				t.Fatalf("AddTopLevel() error = %v, want validation error", err)
			}
		})
	}
}

func TestThreadsNeverLandInUserRecords(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemory()
	svc := newTestService(store, 1)
	thread := Thread{NovelID: "Users", ChapterID: "1"}

	if _, err := svc.List(ctx, thread); !errors.Is(err, validation.ErrInvalid) {
		t.Fatalf("List() error = %v, want validation error", err)
	}
	if _, err := svc.AddTopLevel(ctx, thread, NewComment{Author: "Ana", Body: "hi"}); !errors.Is(err, validation.ErrInvalid) {
		t.Fatalf("AddTopLevel() error = %v, want validation error", err)
	}
	if _, err := svc.Like(ctx, thread, "c_001"); !errors.Is(err, validation.ErrInvalid) {
		t.Fatalf("Like() error = %v, want validation error", err)
	}
	entries, err := store.List(ctx, "")
	if err != nil || len(entries) != 0 {
		t.Fatalf("store entries = %+v, %v; want none", entries, err)
	}
}

func TestTreeInvariants(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(blobstore.NewMemory(), 1)

	a, _ := svc.AddTopLevel(ctx, chapterOne, NewComment{Author: "A", Body: "a"})
	b, _ := svc.AddTopLevel(ctx, chapterOne, NewComment{Author: "B", Body: "b"})
	a1, _ := svc.AddReply(ctx, chapterOne, a.ID, NewComment{Author: "C", Body: "a1"})
	a2, _ := svc.AddReply(ctx, chapterOne, a.ID, NewComment{Author: "D", Body: "a2"})
	a1x, _ := svc.AddReply(ctx, chapterOne, a1.ID, NewComment{Author: "E", Body: "a1x"})
	b1, _ := svc.AddReply(ctx, chapterOne, b.ID, NewComment{Author: "F", Body: "b1"})

	list, err := svc.List(ctx, chapterOne)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	seen := map[string]int{}
	var walk func([]Comment)
	walk = func(cs []Comment) {
		for _, c := range cs {
			seen[c.ID]++
			walk(c.Replies)
		}
	}
	walk(list)
	for _, id := range []string{a.ID, b.ID, a1.ID, a2.ID, a1x.ID, b1.ID} {
		if seen[id] != 1 {
			t.Fatalf("id %s appears %d times", id, seen[id])
		}
	}

	if list[0].ID != b.ID || list[1].ID != a.ID {
		t.Fatalf("roots not most-recent-first: %s, %s", list[0].ID, list[1].ID)
	}
	replies := list[1].Replies
	if len(replies) != 2 || replies[0].ID != a2.ID || replies[1].ID != a1.ID {
		t.Fatalf("replies not most-recent-first: %+v", replies)
	}
	if len(replies[1].Replies) != 1 || replies[1].Replies[0].ID != a1x.ID {
		t.Fatalf("nested reply missing: %+v", replies[1].Replies)
	}
}

func TestRepliesOrderedByInsertionWhenTimestampsCollide(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(blobstore.NewMemory(), 1)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	root, _ := svc.AddTopLevel(ctx, chapterOne, NewComment{Author: "A", Body: "root"})
	first, _ := svc.AddReply(ctx, chapterOne, root.ID, NewComment{Author: "B", Body: "1"})
	second, _ := svc.AddReply(ctx, chapterOne, root.ID, NewComment{Author: "C", Body: "2"})

	list, _ := svc.List(ctx, chapterOne)
	replies := list[0].Replies
	if replies[0].ID != second.ID || replies[1].ID != first.ID {
		t.Fatalf("expected insertion order most-recent-first, got %s, %s", replies[0].ID, replies[1].ID)
	}
}

func TestDuplicateIDsFirstPreOrderMatchWins(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemory()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// "dup" appears nested under the first root and again as the second root; a
	// pre-order walk reaches the nested one first.
	seed := []Comment{
		{ID: "r1", Author: "A", Body: "r1", Timestamp: ts, Replies: []Comment{
			{ID: "dup", Author: "B", Body: "nested", Timestamp: ts, Replies: []Comment{}},
		}},
		{ID: "dup", Author: "C", Body: "root", Timestamp: ts, Replies: []Comment{}},
	}
	payload, _ := codec.Encode(seed)
	if _, err := store.Put(ctx, chapterOne.Path(), payload, "", "seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := newTestService(store, 1)
	if _, err := svc.Like(ctx, chapterOne, "dup"); err != nil {
		t.Fatalf("Like() error = %v", err)
	}
	list, _ := svc.List(ctx, chapterOne)
	if list[0].Replies[0].Likes != 1 || list[1].Likes != 0 {
		t.Fatalf("expected the nested duplicate to be liked: %+v", list)
	}
}

func TestCorruptThread(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemory()
	if _, err := store.Put(ctx, chapterOne.Path(), []byte("[{"), "", "seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := newTestService(store, 1)
	if _, err := svc.List(ctx, chapterOne); !errors.Is(err, codec.ErrCorrupt) {
		t.Fatalf("List() error = %v, want ErrCorrupt", err)
	}
	if _, err := svc.Like(ctx, chapterOne, "x"); !errors.Is(err, codec.ErrCorrupt) {
		t.Fatalf("Like() error = %v, want ErrCorrupt", err)
	}
}

func TestConcurrentLikesWithRetryAreNotLost(t *testing.T) {
	ctx := context.Background()
	const likers = 12
	svc := newTestService(blobstore.NewMemory(), likers)
	root, err := svc.AddTopLevel(ctx, chapterOne, NewComment{Author: "Ana", Body: "like me"})
	if err != nil {
		t.Fatalf("AddTopLevel() error = %v", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, likers)
	for i := 0; i < likers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Like(ctx, chapterOne, root.ID); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("Like() concurrent error = %v", err)
	}

	list, _ := svc.List(ctx, chapterOne)
	if list[0].Likes != likers {
		t.Fatalf("expected %d likes, got %d", likers, list[0].Likes)
	}
}

func TestConcurrentLikesWithoutRetryNeverOvercount(t *testing.T) {
	ctx := context.Background()
	const likers = 12
	svc := newTestService(blobstore.NewMemory(), 1)
	root, _ := svc.AddTopLevel(ctx, chapterOne, NewComment{Author: "Ana", Body: "like me"})

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < likers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Like(ctx, chapterOne, root.ID)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, blobstore.ErrVersionConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	list, _ := svc.List(ctx, chapterOne)
	if list[0].Likes != succeeded || succeeded == 0 {
		t.Fatalf("likes = %d, successful calls = %d", list[0].Likes, succeeded)
	}
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (*blobstore.Object, error) {
	return nil, errors.New("store must not be called")
}

func (failingStore) Put(context.Context, string, []byte, string, string) (string, error) {
	return "", errors.New("store must not be called")
}

func (failingStore) Delete(context.Context, string, string, string) error {
	return errors.New("store must not be called")
}

func (failingStore) List(context.Context, string) ([]blobstore.Entry, error) {
	return nil, errors.New("store must not be called")
}
