package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskmaster/domain"
)

type fakeProfiles struct {
	byID      map[string]*domain.UserProfile
	byEmail   map[string]*domain.UserProfile
	inserted  []domain.UserProfile
	deleted   []string
	lastLogin []string
	insertErr error
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{
		byID:    map[string]*domain.UserProfile{},
		byEmail: map[string]*domain.UserProfile{},
	}
}

func (f *fakeProfiles) add(p domain.UserProfile) {
	cp := p
	f.byID[p.ID] = &cp
	f.byEmail[p.Email] = &cp
}

func (f *fakeProfiles) GetProfile(ctx context.Context, id string) (*domain.UserProfile, error) {
	return f.byID[id], nil
}

func (f *fakeProfiles) GetProfileByEmail(ctx context.Context, email string) (*domain.UserProfile, error) {
	return f.byEmail[email], nil
}

func (f *fakeProfiles) InsertProfile(ctx context.Context, p domain.UserProfile) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, p)
	f.add(p)
	return nil
}

func (f *fakeProfiles) StampLastLogin(ctx context.Context, id string) error {
	f.lastLogin = append(f.lastLogin, id)
	return nil
}

func (f *fakeProfiles) DeleteProfile(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	delete(f.byID, id)
	return nil
}

func newTestService(t *testing.T, profiles Profiles) *Service {
	t.Helper()
	return New(profiles, Config{
		Secret:   []byte("test-secret"),
		Audience: "taskmaster",
		Issuer:   "taskmaster-test",
		TokenTTL: time.Hour,
	}, nil)
}

func hashFor(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func TestSignUpCreatesProfileAndToken(t *testing.T) {
	profiles := newFakeProfiles()
	svc := newTestService(t, profiles)

	id, token, err := svc.SignUp(context.Background(), "Ada@Example.com", "secret1", "")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if id.Email != "ada@example.com" {
		t.Fatalf("email not normalized: %#v", id)
	}
	if id.DisplayName != "ada" {
		t.Fatalf("expected display name from email local part, got %q", id.DisplayName)
	}
	if len(profiles.inserted) != 1 {
		t.Fatalf("expected one stored profile, got %d", len(profiles.inserted))
	}
	stored := profiles.inserted[0]
	if stored.PasswordHash == "" || stored.PasswordHash == "secret1" {
		t.Fatalf("password must be stored hashed")
	}
	if stored.Settings != domain.DefaultSettings() {
		t.Fatalf("unexpected settings: %#v", stored.Settings)
	}

	sub, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if sub != id.ID {
		t.Fatalf("token subject %q, want %q", sub, id.ID)
	}
}

func TestSignUpRejectsWeakPassword(t *testing.T) {
	svc := newTestService(t, newFakeProfiles())
	if _, _, err := svc.SignUp(context.Background(), "a@b.com", "short", ""); !errors.Is(err, domain.ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	profiles := newFakeProfiles()
	profiles.add(domain.UserProfile{ID: "u1", Email: "a@b.com"})
	svc := newTestService(t, profiles)

	if _, _, err := svc.SignUp(context.Background(), "a@b.com", "secret1", ""); !errors.Is(err, domain.ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
}

func TestSignInChecksPassword(t *testing.T) {
	profiles := newFakeProfiles()
	profiles.add(domain.UserProfile{ID: "u1", Email: "a@b.com", PasswordHash: hashFor(t, "secret1")})
	svc := newTestService(t, profiles)

	id, token, err := svc.SignIn(context.Background(), "a@b.com", "secret1")
	if err != nil {
		t.Fatalf("signin: %v", err)
	}
	if id.ID != "u1" || token == "" {
		t.Fatalf("unexpected result: %#v token=%q", id, token)
	}
	if len(profiles.lastLogin) != 1 || profiles.lastLogin[0] != "u1" {
		t.Fatalf("expected last login stamp, got %#v", profiles.lastLogin)
	}

	if _, _, err := svc.SignIn(context.Background(), "a@b.com", "wrong"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.SignIn(context.Background(), "nobody@b.com", "secret1"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	profiles := newFakeProfiles()
	svc := newTestService(t, profiles)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := svc.IssueToken("u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	svc.now = time.Now
	if _, err := svc.Verify(token); err == nil {
		t.Fatalf("expected expired token to fail verification")
	}
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	issuer := New(newFakeProfiles(), Config{Secret: []byte("s"), Audience: "other"}, nil)
	token, err := issuer.IssueToken("u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	verifier := New(newFakeProfiles(), Config{Secret: []byte("s"), Audience: "taskmaster"}, nil)
	if _, err := verifier.Verify(token); err == nil {
		t.Fatalf("expected audience mismatch to fail verification")
	}
}

func TestResolveLoadsProfile(t *testing.T) {
	profiles := newFakeProfiles()
	profiles.add(domain.UserProfile{ID: "u1", Email: "a@b.com", DisplayName: "Ada"})
	svc := newTestService(t, profiles)

	token, err := svc.IssueToken("u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, err := svc.Resolve(context.Background(), token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != (domain.Identity{ID: "u1", Email: "a@b.com", DisplayName: "Ada"}) {
		t.Fatalf("unexpected identity: %#v", id)
	}

	missing, err := svc.IssueToken("ghost")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.Resolve(context.Background(), missing); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWatchDeliversIdentityThenNilOnSignOut(t *testing.T) {
	svc := newTestService(t, newFakeProfiles())

	client := svc.Watch(domain.Identity{ID: "u1", Email: "a@b.com"})
	got := <-client.Identity()
	if got == nil || got.ID != "u1" {
		t.Fatalf("unexpected first value: %#v", got)
	}

	client.SignOut()
	if got := <-client.Identity(); got != nil {
		t.Fatalf("expected nil after sign out, got %#v", got)
	}
}

func TestDeleteIdentitySignsOutMatchingClients(t *testing.T) {
	profiles := newFakeProfiles()
	profiles.add(domain.UserProfile{ID: "u1", Email: "a@b.com"})
	svc := newTestService(t, profiles)

	mine := svc.Watch(domain.Identity{ID: "u1"})
	other := svc.Watch(domain.Identity{ID: "u2"})
	<-mine.Identity()

	if err := svc.DeleteIdentity(context.Background(), "u1"); err != nil {
		t.Fatalf("delete identity: %v", err)
	}
	if len(profiles.deleted) != 1 || profiles.deleted[0] != "u1" {
		t.Fatalf("expected profile deletion, got %#v", profiles.deleted)
	}
	if got := <-mine.Identity(); got != nil {
		t.Fatalf("expected nil for deleted identity, got %#v", got)
	}

	select {
	case got := <-other.Identity():
		if got == nil {
			t.Fatalf("other client must not be signed out")
		}
	default:
		t.Fatalf("other client lost its identity value")
	}
}
