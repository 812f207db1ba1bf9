// Package catalog stores novels and their chapters: one info.json record per
// novel and one HTML document per chapter, side by side under the novel id.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"inkshelf/api/internal/blobstore"
	"inkshelf/api/internal/document"
	"inkshelf/api/internal/validation"
)

const (
	infoFile        = "info.json"
	chapterPrefix   = "chapter-"
	chapterSuffix   = ".html"
	maxChapterBytes = 2 << 20
)

var (
	ErrNovelExists     = errors.New("a novel with this title already exists")
	ErrNovelNotFound   = errors.New("novel not found")
	ErrChapterNotFound = errors.New("chapter not found")
)

// Indexer receives catalog changes for search. Calls are fire-and-forget; the
// catalog never waits on or fails because of the index.
type Indexer interface {
	IndexNovel(novel Novel)
	RemoveNovel(id string)
}

type Service struct {
	store   blobstore.Store
	indexer Indexer
	now     func() time.Time
}

func NewService(store blobstore.Store, indexer Indexer) *Service {
	return &Service{store: store, indexer: indexer, now: time.Now}
}

func NovelPath(id string) string {
	return id + "/" + infoFile
}

func ChapterPath(novelID string, number int) string {
	return novelID + "/" + chapterPrefix + strconv.Itoa(number) + chapterSuffix
}

func (s *Service) CreateNovel(ctx context.Context, input NovelInput) (StoredNovel, error) {
	novel, err := normalizeNovel(input)
	if err != nil {
		return StoredNovel{}, err
	}
	id, err := Slug(novel.Title)
	if err != nil {
		return StoredNovel{}, err
	}
	novel.ID = id
	novel.CreatedAt = s.now().UTC()

	snap, err := document.New[Novel](s.store, NovelPath(id)).Create(ctx, novel, fmt.Sprintf("Create novel %s", id))
	if errors.Is(err, blobstore.ErrAlreadyExists) {
		return StoredNovel{}, ErrNovelExists
	}
	if err != nil {
		return StoredNovel{}, err
	}
	if s.indexer != nil {
		s.indexer.IndexNovel(snap.Value)
	}
	return StoredNovel{Novel: snap.Value, Version: snap.Version}, nil
}

func (s *Service) GetNovel(ctx context.Context, id string) (StoredNovel, error) {
	if err := validation.NovelID(id); err != nil {
		return StoredNovel{}, err
	}
	snap, err := document.New[Novel](s.store, NovelPath(id)).Load(ctx)
	if err != nil {
		return StoredNovel{}, err
	}
	if !snap.Exists {
		return StoredNovel{}, fmt.Errorf("%w: %s", ErrNovelNotFound, id)
	}
	return StoredNovel{Novel: snap.Value, Version: snap.Version}, nil
}

// ListNovels reads every {id}/info.json, newest first. Records that fail to decode
// are logged and left out.
func (s *Service) ListNovels(ctx context.Context) ([]StoredNovel, error) {
	entries, err := s.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list novels: %w", err)
	}
	novels := make([]StoredNovel, 0)
	for _, entry := range entries {
		parts := strings.Split(entry.Path, "/")
		if len(parts) != 2 || parts[1] != infoFile || validation.Reserved(parts[0]) {
			continue
		}
		snap, err := document.New[Novel](s.store, entry.Path).Load(ctx)
		if err != nil {
			if errors.Is(err, blobstore.ErrTransport) || ctx.Err() != nil {
				return nil, err
			}
			log.Printf("catalog: skip unreadable novel %s: %v", entry.Path, err)
			continue
		}
		if !snap.Exists {
			continue
		}
		novels = append(novels, StoredNovel{Novel: snap.Value, Version: snap.Version})
	}
	sort.SliceStable(novels, func(i, j int) bool {
		if novels[i].CreatedAt.Equal(novels[j].CreatedAt) {
			return novels[i].ID < novels[j].ID
		}
		return novels[i].CreatedAt.After(novels[j].CreatedAt)
	})
	return novels, nil
}

// ListChapters returns the chapter numbers stored for novelID in ascending order.
func (s *Service) ListChapters(ctx context.Context, novelID string) ([]ChapterSummary, error) {
	if err := validation.NovelID(novelID); err != nil {
		return nil, err
	}
	entries, err := s.store.List(ctx, novelID+"/"+chapterPrefix)
	if err != nil {
		return nil, fmt.Errorf("list chapters of %s: %w", novelID, err)
	}
	chapters := make([]ChapterSummary, 0, len(entries))
	for _, entry := range entries {
		name := strings.TrimPrefix(entry.Path, novelID+"/")
		if !strings.HasPrefix(name, chapterPrefix) || !strings.HasSuffix(name, chapterSuffix) {
			continue
		}
		number, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, chapterPrefix), chapterSuffix))
		if err != nil || number < 1 {
			continue
		}
		chapters = append(chapters, ChapterSummary{Number: number, Version: entry.Version})
	}
	sort.Slice(chapters, func(i, j int) bool { return chapters[i].Number < chapters[j].Number })
	return chapters, nil
}

func (s *Service) GetChapter(ctx context.Context, novelID string, number int) (Chapter, error) {
	if err := validateChapterRef(novelID, number); err != nil {
		return Chapter{}, err
	}
	text, err := document.LoadText(ctx, s.store, ChapterPath(novelID, number))
	if err != nil {
		return Chapter{}, err
	}
	if !text.Exists {
		return Chapter{}, fmt.Errorf("%w: %s #%d", ErrChapterNotFound, novelID, number)
	}
	return Chapter{NovelID: novelID, Number: number, Body: text.Body, Version: text.Version}, nil
}

// SaveChapter creates or overwrites a chapter. The current version is looked up
// right before the write, so saving the same body twice yields the same document.
func (s *Service) SaveChapter(ctx context.Context, input ChapterInput) (Chapter, error) {
	if err := validateChapterRef(input.NovelID, input.Number); err != nil {
		return Chapter{}, err
	}
	if strings.TrimSpace(input.Body) == "" {
		return Chapter{}, validation.Invalid("body", "is required")
	}
	if len(input.Body) > maxChapterBytes {
		return Chapter{}, validation.Invalid("body", "is too large")
	}
	body := withHeading(input.Title, input.Body)
	path := ChapterPath(input.NovelID, input.Number)

	current, err := document.LoadText(ctx, s.store, path)
	if err != nil {
		return Chapter{}, err
	}
	verb := "Add"
	if current.Exists {
		verb = "Update"
	}
	saved, err := document.SaveText(ctx, s.store, path, body, current.Version,
		fmt.Sprintf("%s chapter %d of %s", verb, input.Number, input.NovelID))
	if err != nil {
		return Chapter{}, err
	}
	return Chapter{NovelID: input.NovelID, Number: input.Number, Body: saved.Body, Version: saved.Version}, nil
}

// DeleteNovel removes the novel record only. Chapters and comment threads stay
// behind under the same prefix.
func (s *Service) DeleteNovel(ctx context.Context, novelID, expectedVersion string) error {
	if err := validation.NovelID(novelID); err != nil {
		return err
	}
	if strings.TrimSpace(expectedVersion) == "" {
		return validation.Invalid("version", "is required to delete a novel")
	}
	err := document.New[Novel](s.store, NovelPath(novelID)).Delete(ctx, expectedVersion, fmt.Sprintf("Delete novel %s", novelID))
	if errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNovelNotFound, novelID)
	}
	if err != nil {
		return err
	}
	if s.indexer != nil {
		s.indexer.RemoveNovel(novelID)
	}
	return nil
}

func validateChapterRef(novelID string, number int) error {
	if err := validation.NovelID(novelID); err != nil {
		return err
	}
	if number < 1 {
		return validation.Invalid("number", "must be 1 or greater")
	}
	return nil
}
