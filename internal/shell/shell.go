// Package shell holds the account state around the app pages: the login
// flag, the last visited route and the page background derived from the
// route and the chat theme.
package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dearie-app/dearie/internal/chatbot"
	"github.com/dearie-app/dearie/internal/domain"
	"github.com/dearie-app/dearie/internal/store"
)

// Storage keys.
const (
	LoggedInKey = "isLoggedIn"
	LastPathKey = "lastPath"
)

// Routes.
const (
	RootPath  = "/"
	LoginPath = "/login"
)

// Account is the login state of a device.
type Account struct {
	LoggedIn bool   `json:"logged_in"`
	LastPath string `json:"last_path,omitempty"`
	Landing  string `json:"landing"`
}

// Shell reads and writes the account state of one device.
type Shell struct {
	storage store.Storage
	logger  *slog.Logger
}

// New returns a Shell over storage.
func New(storage store.Storage, logger *slog.Logger) *Shell {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shell{storage: storage, logger: logger}
}

// LoggedIn reports the stored login flag.
func (s *Shell) LoggedIn(ctx context.Context) (bool, error) {
	v, _, err := s.storage.Get(ctx, LoggedInKey)
	if err != nil {
		return false, fmt.Errorf("read login flag: %w", err)
	}
	return v == "true", nil
}

// Login sets the login flag.
func (s *Shell) Login(ctx context.Context) (Account, error) {
	if err := s.storage.Set(ctx, LoggedInKey, "true"); err != nil {
		return Account{}, fmt.Errorf("write login flag: %w", err)
	}
	return s.Account(ctx)
}

// Logout clears the login flag. The last path is kept for the next login.
func (s *Shell) Logout(ctx context.Context) (Account, error) {
	if err := s.storage.Set(ctx, LoggedInKey, "false"); err != nil {
		return Account{}, fmt.Errorf("write login flag: %w", err)
	}
	return s.Account(ctx)
}

// RecordVisit stores path as the last visited route while logged in. The
// root and login routes are never recorded.
func (s *Shell) RecordVisit(ctx context.Context, path string) (bool, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == RootPath || path == LoginPath || !strings.HasPrefix(path, "/") {
		return false, nil
	}
	loggedIn, err := s.LoggedIn(ctx)
	if err != nil || !loggedIn {
		return false, err
	}
	if err := s.storage.Set(ctx, LastPathKey, path); err != nil {
		return false, fmt.Errorf("write last path: %w", err)
	}
	return true, nil
}

// Account returns the login state and the route to land on: the last
// visited route when logged in, the login page otherwise.
func (s *Shell) Account(ctx context.Context) (Account, error) {
	loggedIn, err := s.LoggedIn(ctx)
	if err != nil {
		return Account{}, err
	}
	last, _, err := s.storage.Get(ctx, LastPathKey)
	if err != nil {
		return Account{}, fmt.Errorf("read last path: %w", err)
	}
	acc := Account{LoggedIn: loggedIn, LastPath: last, Landing: LoginPath}
	if loggedIn {
		acc.Landing = last
		if acc.Landing == "" {
			acc.Landing = RootPath
		}
	}
	return acc, nil
}

// Background resolves the page background of path for this device, using
// the stored chat theme on chat routes.
func (s *Shell) Background(ctx context.Context, path string) (Background, error) {
	if !isChatPath(path) {
		return ResolveBackground(path, ""), nil
	}
	var snap domain.ChatSnapshot
	_, err := store.GetJSON(ctx, s.storage, chatbot.SnapshotKey, &snap)
	if errors.Is(err, store.ErrMalformed) {
		s.logger.Warn("Ignoring malformed chat snapshot for background", "error", err)
		return ResolveBackground(path, ""), nil
	}
	if err != nil {
		return Background{}, fmt.Errorf("read chat theme: %w", err)
	}
	return ResolveBackground(path, snap.Theme), nil
}
