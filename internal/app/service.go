package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"inkshelf/api/internal/auth"
	"inkshelf/api/internal/blobstore"
	"inkshelf/api/internal/catalog"
	"inkshelf/api/internal/comments"
	"inkshelf/api/internal/config"
	"inkshelf/api/internal/directory"
	"inkshelf/api/internal/rbac"
	"inkshelf/api/internal/search"
	"inkshelf/api/internal/session"
	"inkshelf/api/internal/util"
)

// Session is an authenticated caller. Token and RefreshToken are only set when
// the session was just issued.
type Session struct {
	Token        string
	RefreshToken string
	Username     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) role() rbac.Role {
	return rbac.Normalize(s.Role)
}

type Service struct {
	cfg       config.Config
	store     blobstore.Store
	sessions  session.Store
	catalog   *catalog.Service
	comments  *comments.Service
	directory *directory.Service
	search    *search.Service
}

// New wires the domain services over store. meili may be nil, in which case
// search scans the catalog.
func New(cfg config.Config, store blobstore.Store, sessions session.Store, meili *search.Meili) *Service {
	s := &Service{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		comments: comments.NewService(store, cfg.CommentAttempts),
		directory: directory.NewService(store, directory.Options{
			DefaultRole:     cfg.DefaultRole,
			ScanConcurrency: cfg.ScanConcurrency,
		}),
	}
	s.search = search.NewService(meili, search.NewScan(s))
	s.catalog = catalog.NewService(store, s.search)
	return s
}

// Bootstrap brings the search index up to date with the catalog.
func (s *Service) Bootstrap(ctx context.Context) {
	s.search.Reindex(ctx, s)
}

func (s *Service) Ping(ctx context.Context) error {
	if pinger, ok := s.store.(blobstore.Pinger); ok {
		return pinger.Ping(ctx)
	}
	_, err := s.store.List(ctx, "users/")
	return err
}

func (s *Service) Register(ctx context.Context, req directory.RegisterRequest) (directory.Profile, error) {
	return s.directory.Register(ctx, req)
}

func (s *Service) Login(ctx context.Context, identifier, password string) (Session, error) {
	profile, err := s.directory.Authenticate(ctx, identifier, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, profile.Username, profile.Role)
}

// Refresh rotates a refresh token. The role is read again so a changed account
// takes effect at the next refresh.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, session.ErrNotFound
	}
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	profile, err := s.directory.GetUser(ctx, data.Username)
	if errors.Is(err, directory.ErrUserNotFound) {
		return Session{}, session.ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, profile.Username, profile.Role)
}

func (s *Service) issueSession(ctx context.Context, username, role string) (Session, error) {
	token, claims, err := auth.IssueToken([]byte(s.cfg.JWTSecret), username, role, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	data := session.Data{Username: username, Role: role, CreatedAt: time.Now().UTC()}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), data, time.Now().Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		Username:     username,
		Role:         role,
		JTI:          claims.ID,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

// SessionFromToken verifies an access token. Access tokens are short-lived and
// not revocable; logout revokes the refresh session only.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Username:  claims.Username(),
		Role:      claims.Role,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) ChangePassword(ctx context.Context, caller Session, current, next string) error {
	return s.directory.ChangePassword(ctx, caller.Username, current, next)
}

func (s *Service) Profile(ctx context.Context, caller Session) (directory.Profile, error) {
	return s.directory.GetUser(ctx, caller.Username)
}

func (s *Service) ListNovels(ctx context.Context) ([]catalog.StoredNovel, error) {
	return s.catalog.ListNovels(ctx)
}

func (s *Service) GetNovel(ctx context.Context, id string) (catalog.StoredNovel, error) {
	return s.catalog.GetNovel(ctx, id)
}

func (s *Service) CreateNovel(ctx context.Context, caller Session, input catalog.NovelInput) (catalog.StoredNovel, error) {
	if !rbac.Can(caller.role(), rbac.ActionPublish) {
		return catalog.StoredNovel{}, forbidden("publish novels")
	}
	input.CreatorID = caller.Username
	return s.catalog.CreateNovel(ctx, input)
}

func (s *Service) DeleteNovel(ctx context.Context, caller Session, id, version string) error {
	if err := s.authorizeNovel(ctx, caller, id, "delete this novel"); err != nil {
		return err
	}
	return s.catalog.DeleteNovel(ctx, id, version)
}

func (s *Service) ListChapters(ctx context.Context, novelID string) ([]catalog.ChapterSummary, error) {
	if _, err := s.catalog.GetNovel(ctx, novelID); err != nil {
		return nil, err
	}
	return s.catalog.ListChapters(ctx, novelID)
}

func (s *Service) GetChapter(ctx context.Context, novelID string, number int) (catalog.Chapter, error) {
	return s.catalog.GetChapter(ctx, novelID, number)
}

func (s *Service) SaveChapter(ctx context.Context, caller Session, input catalog.ChapterInput) (catalog.Chapter, error) {
	if err := s.authorizeNovel(ctx, caller, input.NovelID, "edit chapters of this novel"); err != nil {
		return catalog.Chapter{}, err
	}
	return s.catalog.SaveChapter(ctx, input)
}

// authorizeNovel loads the novel and checks that caller created it or may
// moderate. A missing novel is reported as such before any permission check.
func (s *Service) authorizeNovel(ctx context.Context, caller Session, novelID, action string) error {
	novel, err := s.catalog.GetNovel(ctx, novelID)
	if err != nil {
		return err
	}
	if !rbac.CanManage(caller.Username, caller.role(), novel.CreatorID) {
		return forbidden(action)
	}
	return nil
}

// History lists the audited changes of a novel's info record.
func (s *Service) History(ctx context.Context, novelID string, limit int) ([]blobstore.Revision, error) {
	if _, err := s.catalog.GetNovel(ctx, novelID); err != nil {
		return nil, err
	}
	reader, ok := s.store.(blobstore.HistoryReader)
	if !ok {
		return nil, blobstore.ErrHistoryUnsupported
	}
	revisions, err := reader.History(ctx, catalog.NovelPath(novelID), limit)
	if err != nil {
		return nil, err
	}
	if revisions == nil {
		revisions = []blobstore.Revision{}
	}
	return revisions, nil
}

func (s *Service) Comments(ctx context.Context, thread comments.Thread) ([]comments.Comment, error) {
	list, err := s.comments.List(ctx, thread)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []comments.Comment{}
	}
	return list, nil
}

func (s *Service) AddComment(ctx context.Context, caller Session, thread comments.Thread, body, avatar string) (comments.Comment, error) {
	if !rbac.Can(caller.role(), rbac.ActionComment) {
		return comments.Comment{}, forbidden("comment")
	}
	return s.comments.AddTopLevel(ctx, thread, comments.NewComment{Author: caller.Username, Body: body, Avatar: avatar})
}

func (s *Service) AddReply(ctx context.Context, caller Session, thread comments.Thread, parentID, body, avatar string) (comments.Comment, error) {
	if !rbac.Can(caller.role(), rbac.ActionComment) {
		return comments.Comment{}, forbidden("reply")
	}
	return s.comments.AddReply(ctx, thread, parentID, comments.NewComment{Author: caller.Username, Body: body, Avatar: avatar})
}

func (s *Service) Like(ctx context.Context, thread comments.Thread, commentID string) (int, error) {
	return s.comments.Like(ctx, thread, commentID)
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(ctx, q)
}

func forbidden(action string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", fmt.Sprintf("You are not allowed to %s", action), nil)
}
