// Package gitrepo stores blobs as files in a local git repository. Every put and
// delete is a commit on main carrying the audit message, and a file's version is
// its blob hash in the HEAD tree.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"inkshelf/api/internal/blobstore"
)

const mainBranch = "main"

type Repo struct {
	dir    string
	author string
	mu     sync.Mutex
	repo   *git.Repository
}

// Open opens the repository in dir, initializing it with an empty commit on main
// when dir holds none.
func Open(dir, author string) (*Repo, error) {
	if author == "" {
		author = "inkshelf"
	}
	r := &Repo{dir: dir, author: author}

	repo, err := git.PlainOpen(dir)
	if err == nil {
		r.repo = repo
		return r, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(dir, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	hash, err := worktree.Commit("Initialize content repository", &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            r.signature(),
	})
	if err != nil {
		return nil, fmt.Errorf("commit baseline: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(mainBranch), hash)); err != nil {
		return nil, fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	r.repo = repo
	return r, nil
}

func (r *Repo) Get(ctx context.Context, path string) (*blobstore.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := blobstore.ValidatePath(path); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tree, err := r.headTree()
	if err != nil {
		return nil, err
	}
	file, err := tree.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", path, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer reader.Close()
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &blobstore.Object{Path: path, Content: content, Version: file.Hash.String()}, nil
}

func (r *Repo) Put(ctx context.Context, path string, content []byte, expectedVersion, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := blobstore.ValidatePath(path); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.currentVersion(path)
	if err != nil {
		return "", err
	}
	if err := blobstore.CheckWrite(current, expectedVersion); err != nil {
		return "", fmt.Errorf("put %s: %w", path, err)
	}

	worktree, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	full := filepath.Join(worktree.Filesystem.Root(), filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create dir for %s: %w", path, err)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := worktree.Add(path); err != nil {
		return "", fmt.Errorf("git add %s: %w", path, err)
	}
	if err := r.commit(worktree, message); err != nil {
		return "", err
	}
	return blobstore.ContentVersion(content), nil
}

func (r *Repo) Delete(ctx context.Context, path, expectedVersion, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := blobstore.ValidatePath(path); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.currentVersion(path)
	if err != nil {
		return err
	}
	if err := blobstore.CheckDelete(current, expectedVersion); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	worktree, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if _, err := worktree.Remove(path); err != nil {
		return fmt.Errorf("git rm %s: %w", path, err)
	}
	return r.commit(worktree, message)
}

func (r *Repo) List(ctx context.Context, prefix string) ([]blobstore.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tree, err := r.headTree()
	if err != nil {
		return nil, err
	}
	entries := make([]blobstore.Entry, 0)
	err = tree.Files().ForEach(func(file *object.File) error {
		if strings.HasPrefix(file.Name, prefix) {
			entries = append(entries, blobstore.Entry{Path: file.Name, Version: file.Hash.String()})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk tree: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (r *Repo) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.repo.Head()
	if err != nil {
		return fmt.Errorf("resolve HEAD: %w", err)
	}
	return nil
}

// History walks the log of main for commits touching path, newest first.
func (r *Repo) History(ctx context.Context, path string, limit int) ([]blobstore.Revision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := blobstore.ValidatePath(path); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	head, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	iter, err := r.repo.Log(&git.LogOptions{From: head.Hash(), FileName: &path})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]blobstore.Revision, 0)
	err = iter.ForEach(func(commit *object.Commit) error {
		revision := blobstore.Revision{
			Path:    path,
			Message: strings.TrimSpace(commit.Message),
			Author:  commit.Author.Name,
			At:      commit.Author.When,
		}
		file, err := commit.File(path)
		switch {
		case errors.Is(err, object.ErrFileNotFound):
			revision.Deleted = true
		case err != nil:
			return fmt.Errorf("read %s at %s: %w", path, commit.Hash, err)
		default:
			revision.Version = file.Hash.String()
		}
		items = append(items, revision)
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (r *Repo) headTree() (*object.Tree, error) {
	ref, err := r.repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("load tree: %w", err)
	}
	return tree, nil
}

func (r *Repo) currentVersion(path string) (string, error) {
	tree, err := r.headTree()
	if err != nil {
		return "", err
	}
	file, err := tree.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find %s: %w", path, err)
	}
	return file.Hash.String(), nil
}

func (r *Repo) commit(worktree *git.Worktree, message string) error {
	if strings.TrimSpace(message) == "" {
		message = "Update content"
	}
	if _, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            r.signature(),
	}); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *Repo) signature() *object.Signature {
	return &object.Signature{
		Name:  r.author,
		Email: fmt.Sprintf("%s@local.inkshelf.dev", sanitizeEmail(r.author)),
		When:  time.Now(),
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
