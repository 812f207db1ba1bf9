// Package comments owns the per-chapter comment threads: a tree of comments and
// nested replies persisted as one document per (novel, chapter).
package comments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"inkshelf/api/internal/blobstore"
	"inkshelf/api/internal/document"
	"inkshelf/api/internal/util"
	"inkshelf/api/internal/validation"
)

const maxBodyRunes = 5000

var (
	ErrThreadNotFound  = errors.New("cannot reply on a thread that does not exist")
	ErrParentNotFound  = errors.New("the comment you are replying to no longer exists")
	ErrCommentNotFound = errors.New("comment not found")
)

type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Likes     int       `json:"likes"`
	Replies   []Comment `json:"replies"`
	Avatar    string    `json:"avatar,omitempty"`
}

// Thread addresses the comment document of one chapter.
type Thread struct {
	NovelID   string
	ChapterID string
}

func (t Thread) Path() string {
	return t.NovelID + "/comments-" + t.ChapterID + ".json"
}

func (t Thread) validate() error {
	if err := validation.NovelID(t.NovelID); err != nil {
		return err
	}
	return validation.Segment("chapterId", t.ChapterID)
}

type NewComment struct {
	Author string
	Body   string
	Avatar string
}

type Service struct {
	store    blobstore.Store
	attempts int
	now      func() time.Time
	newID    func() string
}

// NewService returns a thread service. attempts bounds the read-mutate-write
// cycles per action; 1 surfaces every version conflict to the caller.
func NewService(store blobstore.Store, attempts int) *Service {
	if attempts < 1 {
		attempts = 1
	}
	return &Service{
		store:    store,
		attempts: attempts,
		now:      time.Now,
		newID:    func() string { return util.NewID("c") },
	}
}

// List returns the thread's root comments, most recent first. A thread that was
// never written is empty, not an error.
func (s *Service) List(ctx context.Context, thread Thread) ([]Comment, error) {
	if err := thread.validate(); err != nil {
		return nil, err
	}
	snap, err := s.doc(thread).Load(ctx)
	if err != nil {
		return nil, err
	}
	list := buildTree(snap.Value).comments()
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp.After(list[j].Timestamp)
	})
	return list, nil
}

// AddTopLevel prepends a new root comment, creating the thread document on the
// first comment.
func (s *Service) AddTopLevel(ctx context.Context, thread Thread, input NewComment) (Comment, error) {
	if err := thread.validate(); err != nil {
		return Comment{}, err
	}
	comment, err := s.newComment(input)
	if err != nil {
		return Comment{}, err
	}
	_, err = s.doc(thread).Update(ctx, func(list []Comment) ([]Comment, error) {
		t := buildTree(list)
		t.prependRoot(comment)
		return t.comments(), nil
	}, document.UpdateOptions{
		Message:  fmt.Sprintf("Add comment by %s on %s", comment.Author, thread.Path()),
		Attempts: s.attempts,
	})
	if err != nil {
		return Comment{}, err
	}
	return comment, nil
}

// AddReply prepends a reply to parentID's reply list.
func (s *Service) AddReply(ctx context.Context, thread Thread, parentID string, input NewComment) (Comment, error) {
	if err := thread.validate(); err != nil {
		return Comment{}, err
	}
	if parentID == "" {
		return Comment{}, validation.Invalid("parentId", "is required")
	}
	comment, err := s.newComment(input)
	if err != nil {
		return Comment{}, err
	}
	_, err = s.doc(thread).Update(ctx, func(list []Comment) ([]Comment, error) {
		t := buildTree(list)
		if !t.prependReply(parentID, comment) {
			return nil, fmt.Errorf("%w: %s", ErrParentNotFound, parentID)
		}
		return t.comments(), nil
	}, document.UpdateOptions{
		MustExist: true,
		Message:   fmt.Sprintf("Reply by %s to %s on %s", comment.Author, parentID, thread.Path()),
		Attempts:  s.attempts,
	})
	if errors.Is(err, document.ErrNotFound) {
		return Comment{}, ErrThreadNotFound
	}
	if err != nil {
		return Comment{}, err
	}
	return comment, nil
}

// Like increments the like counter of commentID and returns the new count.
func (s *Service) Like(ctx context.Context, thread Thread, commentID string) (int, error) {
	if err := thread.validate(); err != nil {
		return 0, err
	}
	if commentID == "" {
		return 0, validation.Invalid("commentId", "is required")
	}
	likes := 0
	_, err := s.doc(thread).Update(ctx, func(list []Comment) ([]Comment, error) {
		t := buildTree(list)
		target, ok := t.find(commentID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrCommentNotFound, commentID)
		}
		target.Likes++
		likes = target.Likes
		return t.comments(), nil
	}, document.UpdateOptions{
		MustExist: true,
		Message:   fmt.Sprintf("Like %s on %s", commentID, thread.Path()),
		Attempts:  s.attempts,
	})
	if errors.Is(err, document.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrCommentNotFound, commentID)
	}
	if err != nil {
		return 0, err
	}
	return likes, nil
}

func (s *Service) doc(thread Thread) *document.Versioned[[]Comment] {
	return document.New[[]Comment](s.store, thread.Path())
}

func (s *Service) newComment(input NewComment) (Comment, error) {
	author, err := validation.Text("author", input.Author, 100)
	if err != nil {
		return Comment{}, err
	}
	body, err := validation.Text("body", input.Body, maxBodyRunes)
	if err != nil {
		return Comment{}, err
	}
	avatar, err := validation.OptionalURL("avatar", input.Avatar)
	if err != nil {
		return Comment{}, err
	}
	return Comment{
		ID:        s.newID(),
		Author:    author,
		Body:      body,
		Timestamp: s.now().UTC(),
		Likes:     0,
		Replies:   []Comment{},
		Avatar:    avatar,
	}, nil
}
