// Package security authenticates repository users and checks their roles.
package security

import (
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/xerrors"
)

var (
	ErrUnauthorized = xerrors.New("unauthorized")
	ErrForbidden    = xerrors.New("forbidden")
)

const (
	RoleSystemAdministrator = "system-administrator"
	RoleGuest               = "guest"

	managerPrefix  = "repository-manager:"
	observerPrefix = "repository-observer:"

	// AllRepositories in a repository role grants it on every repository.
	AllRepositories = "*"
)

type Operation string

const (
	OpRead   Operation = "read"
	OpWrite  Operation = "write"
	OpDelete Operation = "delete"
	OpScan   Operation = "scan"
	OpAdmin  Operation = "admin"
)

// ManagerRole grants every repository operation on repoID.
func ManagerRole(repoID string) string { return managerPrefix + repoID }

// ObserverRole grants read access to repoID.
func ObserverRole(repoID string) string { return observerPrefix + repoID }

type User struct {
	Username     string   `koanf:"username"`
	PasswordHash string   `koanf:"password_hash"` // bcrypt
	Roles        []string `koanf:"roles"`
}

// Guest is the identity of anonymous requests.
var Guest = &User{Username: RoleGuest, Roles: []string{RoleGuest}}

type Manager struct {
	users      map[string]User
	guestRepos map[string]struct{}
	logger     *slog.Logger
}

func New(users []User, guestReadable []string) *Manager {
	m := &Manager{
		users:      make(map[string]User, len(users)),
		guestRepos: make(map[string]struct{}, len(guestReadable)),
		logger:     slog.Default().With(slog.String("component", "security")),
	}
	for _, u := range users {
		m.users[u.Username] = u
	}
	for _, id := range guestReadable {
		m.guestRepos[id] = struct{}{}
	}
	return m
}

// HashPassword returns the bcrypt hash stored in the configuration.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", xerrors.Errorf("unable to hash password: %w", err)
	}
	return string(b), nil
}

// Authenticate checks basic credentials and returns the matching user.
func (m *Manager) Authenticate(username, password string) (*User, error) {
	u, ok := m.users[username]
	if !ok || u.PasswordHash == "" {
		m.logger.Debug("Unknown user", slog.String("username", username))
		return nil, ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		m.logger.Debug("Wrong password", slog.String("username", username))
		return nil, ErrUnauthorized
	}
	return &u, nil
}

// Authorize reports whether user may perform op on repoID. A nil user is a
// guest. OpAdmin ignores repoID. Guests are refused with ErrUnauthorized so
// that they can be asked for credentials, known users with ErrForbidden.
func (m *Manager) Authorize(user *User, op Operation, repoID string) error {
	if user == nil {
		user = Guest
	}
	if m.allowed(user, op, repoID) {
		return nil
	}
	if user.Username == RoleGuest {
		return xerrors.Errorf("%s on %q: %w", op, repoID, ErrUnauthorized)
	}
	return xerrors.Errorf("user %s may not %s %q: %w", user.Username, op, repoID, ErrForbidden)
}

func (m *Manager) allowed(user *User, op Operation, repoID string) bool {
	if slices.Contains(user.Roles, RoleSystemAdministrator) {
		return true
	}
	if op == OpAdmin {
		return false
	}
	if op == OpRead && m.isGuestReadable(repoID) {
		return true
	}
	for _, role := range user.Roles {
		if repo, ok := strings.CutPrefix(role, managerPrefix); ok && matches(repo, repoID) {
			return true
		}
		if repo, ok := strings.CutPrefix(role, observerPrefix); ok && matches(repo, repoID) && op == OpRead {
			return true
		}
	}
	return false
}

func (m *Manager) isGuestReadable(repoID string) bool {
	_, ok := m.guestRepos[repoID]
	return ok
}

// Readable filters repoIDs down to those user may read.
func (m *Manager) Readable(user *User, repoIDs []string) []string {
	var readable []string
	for _, id := range repoIDs {
		if m.Authorize(user, OpRead, id) == nil {
			readable = append(readable, id)
		}
	}
	return readable
}

func matches(pattern, repoID string) bool {
	return pattern == AllRepositories || pattern == repoID
}
