// Package directory keeps user accounts as one document per username under users/
// and checks email uniqueness by scanning that collection.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"inkshelf/api/internal/blobstore"
	"inkshelf/api/internal/codec"
	"inkshelf/api/internal/document"
	"inkshelf/api/internal/validation"
)

const (
	usersPrefix       = "users/"
	minPasswordLength = 6
)

var (
	ErrUsernameTaken      = errors.New("this username is already taken")
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrInvalidCredentials = errors.New("invalid username, email or password")
	ErrUserNotFound       = errors.New("user not found")
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

type Options struct {
	// DefaultRole is assigned to every new account.
	DefaultRole string
	// ScanConcurrency bounds the parallel reads of the users collection.
	ScanConcurrency int
}

type Service struct {
	store       blobstore.Store
	defaultRole string
	concurrency int
	cost        int
	now         func() time.Time
}

func NewService(store blobstore.Store, opts Options) *Service {
	if opts.ScanConcurrency < 1 {
		opts.ScanConcurrency = 8
	}
	if opts.DefaultRole == "" {
		opts.DefaultRole = "author"
	}
	return &Service{
		store:       store,
		defaultRole: opts.DefaultRole,
		concurrency: opts.ScanConcurrency,
		cost:        bcrypt.DefaultCost,
		now:         time.Now,
	}
}

type RegisterRequest struct {
	Username string
	Email    string
	Password string
}

func UserPath(username string) string {
	return usersPrefix + username + ".json"
}

// Register creates an account. The email check scans every stored user before the
// write, but is not atomic with it: two registrations racing with the same email
// and different usernames can both succeed.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Profile, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	if !usernamePattern.MatchString(username) || username == "." || username == ".." {
		return Profile{}, validation.Invalid("username", "must be 3-32 letters, digits, '.', '_' or '-'")
	}
	if !validEmail(email) {
		return Profile{}, validation.Invalid("email", "must be a valid email address")
	}
	if len(req.Password) < minPasswordLength {
		return Profile{}, validation.Invalid("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}

	path := UserPath(username)
	existing, err := s.store.Get(ctx, path)
	if err != nil {
		return Profile{}, fmt.Errorf("read %s: %w", path, err)
	}
	if existing != nil {
		return Profile{}, ErrUsernameTaken
	}

	match, err := s.findByEmail(ctx, email, path)
	if err != nil {
		return Profile{}, err
	}
	if match != nil {
		return Profile{}, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return Profile{}, fmt.Errorf("hash password: %w", err)
	}
	user := User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         s.defaultRole,
		CreatedAt:    s.now().UTC(),
	}
	_, err = document.New[User](s.store, path).Create(ctx, user, fmt.Sprintf("Register user %s", username))
	if errors.Is(err, blobstore.ErrAlreadyExists) {
		return Profile{}, ErrUsernameTaken
	}
	if err != nil {
		return Profile{}, err
	}
	return user.Profile(), nil
}

// Authenticate looks identifier up as a username and, when that misses and it looks
// like an email, by scanning for a matching email. Every miss or mismatch returns
// ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (Profile, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return Profile{}, validation.Invalid("identifier", "username or email and password are required")
	}

	user, err := s.lookup(ctx, identifier)
	if err != nil {
		return Profile{}, err
	}
	if user == nil || !user.checkPassword(password) {
		return Profile{}, ErrInvalidCredentials
	}
	return user.Profile(), nil
}

func (s *Service) GetUser(ctx context.Context, username string) (Profile, error) {
	if err := validation.Segment("username", username); err != nil {
		return Profile{}, err
	}
	snap, err := document.New[User](s.store, UserPath(username)).Load(ctx)
	if err != nil {
		return Profile{}, err
	}
	if !snap.Exists {
		return Profile{}, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	return snap.Value.Profile(), nil
}

// ChangePassword replaces the stored credential with a fresh bcrypt hash and drops
// any legacy plaintext password.
func (s *Service) ChangePassword(ctx context.Context, username, current, next string) error {
	if err := validation.Segment("username", username); err != nil {
		return err
	}
	if len(next) < minPasswordLength {
		return validation.Invalid("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = document.New[User](s.store, UserPath(username)).Update(ctx, func(user User) (User, error) {
		if !user.checkPassword(current) {
			return user, ErrInvalidCredentials
		}
		user.PasswordHash = string(hash)
		user.Password = ""
		return user, nil
	}, document.UpdateOptions{
		MustExist: true,
		Message:   fmt.Sprintf("Change password of %s", username),
	})
	if errors.Is(err, document.ErrNotFound) {
		return ErrInvalidCredentials
	}
	return err
}

func (s *Service) lookup(ctx context.Context, identifier string) (*User, error) {
	if validation.Segment("username", identifier) == nil {
		snap, err := document.New[User](s.store, UserPath(identifier)).Load(ctx)
		if err != nil {
			return nil, err
		}
		if snap.Exists {
			return &snap.Value, nil
		}
	}
	if !strings.Contains(identifier, "@") {
		return nil, nil
	}
	return s.findByEmail(ctx, identifier, "")
}

// findByEmail reads every user record except skipPath and returns the first one,
// in path order, whose email matches case-insensitively. Undecodable records are
// logged and skipped; store failures abort the scan.
func (s *Service) findByEmail(ctx context.Context, email, skipPath string) (*User, error) {
	entries, err := s.store.List(ctx, usersPrefix)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	matches := make([]*User, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, entry := range entries {
		if entry.Path == skipPath || !strings.HasSuffix(entry.Path, ".json") {
			continue
		}
		i, path := i, entry.Path
		g.Go(func() error {
			obj, err := s.store.Get(gctx, path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			if obj == nil {
				return nil
			}
			var user User
			if err := codec.Decode(path, obj.Content, &user); err != nil {
				log.Printf("directory: skip unreadable user record %s: %v", path, err)
				return nil
			}
			if strings.EqualFold(strings.TrimSpace(user.Email), email) {
				matches[i] = &user
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, match := range matches {
		if match != nil {
			return match, nil
		}
	}
	return nil, nil
}

func validEmail(email string) bool {
	local, domain, ok := strings.Cut(email, "@")
	return ok && local != "" && domain != "" && !strings.Contains(domain, "@") && !strings.ContainsAny(email, " \t\r\n")
}
