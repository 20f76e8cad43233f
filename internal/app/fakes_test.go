package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/srinithinsomasundaram/thamly-sub000/internal/auth"
	"github.com/srinithinsomasundaram/thamly-sub000/internal/authpw"
	"github.com/srinithinsomasundaram/thamly-sub000/internal/collab"
	"github.com/srinithinsomasundaram/thamly-sub000/internal/config"
	"github.com/srinithinsomasundaram/thamly-sub000/internal/logging"
	"github.com/srinithinsomasundaram/thamly-sub000/internal/oauth"
	"github.com/srinithinsomasundaram/thamly-sub000/internal/search"
	"github.com/srinithinsomasundaram/thamly-sub000/internal/store"
)

const testSecret = "test-secret"

// fakeStore is an in-memory dataStore with the same ownership rules as the
// Postgres queries.
type fakeStore struct {
	mu       sync.Mutex
	clock    time.Time
	users    map[string]store.User
	profiles map[string]store.Profile
	drafts   map[string]store.Draft
	revoked  map[string]time.Time

	pingErr       error
	userByIDErr   error
	upsertCalls   int
	createdDrafts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		users:    map[string]store.User{},
		profiles: map[string]store.Profile{},
		drafts:   map[string]store.Draft{},
		revoked:  map[string]time.Time{},
	}
}

// tick returns a strictly increasing timestamp.
func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) addUser(email string) store.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.tick()
	user := store.User{ID: uuid.NewString(), Email: email, CreatedAt: now, UpdatedAt: now}
	f.users[user.ID] = user
	f.profiles[user.ID] = store.Profile{ID: user.ID, Email: email, Plan: store.DefaultPlan, CreatedAt: now, UpdatedAt: now}
	return user
}

func (f *fakeStore) deleteUser(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, id)
}

func (f *fakeStore) draft(id string) store.Draft {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drafts[id]
}

func (f *fakeStore) userCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

func (f *fakeStore) CreateUser(_ context.Context, in store.NewUser) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == in.Email {
			return store.User{}, store.ErrEmailTaken
		}
	}
	now := f.tick()
	user := store.User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		FullName:     in.FullName,
		PasswordHash: in.PasswordHash,
		AvatarURL:    in.AvatarURL,
		Provider:     in.Provider,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.users[user.ID] = user
	f.profiles[user.ID] = store.Profile{ID: user.ID, Email: user.Email, FullName: user.FullName, Plan: store.DefaultPlan, CreatedAt: now, UpdatedAt: now}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == strings.ToLower(strings.TrimSpace(email)) {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userByIDErr != nil {
		return store.User{}, f.userByIDErr
	}
	u, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) UpsertOAuthUser(_ context.Context, email string, fullName, avatarURL *string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	email = strings.ToLower(strings.TrimSpace(email))
	now := f.tick()
	for id, u := range f.users {
		if u.Email != email {
			continue
		}
		if fullName != nil {
			u.FullName = fullName
		}
		if avatarURL != nil {
			u.AvatarURL = avatarURL
		}
		u.UpdatedAt = now
		f.users[id] = u
		return u, nil
	}
	provider := store.ProviderGoogle
	user := store.User{ID: uuid.NewString(), Email: email, FullName: fullName, AvatarURL: avatarURL, Provider: &provider, CreatedAt: now, UpdatedAt: now}
	f.users[user.ID] = user
	f.profiles[user.ID] = store.Profile{ID: user.ID, Email: email, FullName: fullName, AvatarURL: avatarURL, Plan: store.DefaultPlan, CreatedAt: now, UpdatedAt: now}
	return user, nil
}

func (f *fakeStore) GetProfile(_ context.Context, id string) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return store.Profile{}, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) ListDrafts(_ context.Context, owner string) ([]store.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Draft{}
	for _, d := range f.drafts {
		if d.UserID == owner && d.Status != store.DraftStatusDeleted {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeStore) GetDraft(_ context.Context, owner, id string) (store.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drafts[id]
	if !ok || d.UserID != owner || d.Status == store.DraftStatusDeleted {
		return store.Draft{}, store.ErrNotFound
	}
	return d, nil
}

func valueOr(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}

func (f *fakeStore) CreateDraft(_ context.Context, owner string, in store.DraftInput) (store.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdDrafts++
	now := f.tick()
	d := store.Draft{
		ID:          uuid.NewString(),
		UserID:      owner,
		Title:       valueOr(in.Title, store.DefaultDraftTitle),
		Content:     valueOr(in.Content, ""),
		Description: valueOr(in.Description, ""),
		Status:      valueOr(in.Status, store.DraftStatusDraft),
		Mode:        valueOr(in.Mode, ""),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if d.Status == store.DraftStatusDeleted {
		d.DeletedAt = &now
	}
	f.drafts[d.ID] = d
	return d, nil
}

func (f *fakeStore) UpdateDraft(_ context.Context, owner, id string, patch store.DraftPatch) (store.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if patch.Empty() {
		return store.Draft{}, store.ErrNoFields
	}
	d, ok := f.drafts[id]
	if !ok || d.UserID != owner || (d.Status == store.DraftStatusDeleted && patch.Status == nil) {
		return store.Draft{}, store.ErrNotFound
	}
	if patch.Version != nil && *patch.Version != d.Version {
		return store.Draft{}, store.ErrVersionConflict
	}
	now := f.tick()
	d.Title = valueOr(patch.Title, d.Title)
	d.Content = valueOr(patch.Content, d.Content)
	d.Description = valueOr(patch.Description, d.Description)
	d.Mode = valueOr(patch.Mode, d.Mode)
	if patch.Status != nil {
		d.Status = *patch.Status
		if d.Status == store.DraftStatusDeleted && d.DeletedAt == nil {
			d.DeletedAt = &now
		} else if d.Status != store.DraftStatusDeleted {
			d.DeletedAt = nil
		}
	}
	d.Version++
	d.UpdatedAt = now
	f.drafts[id] = d
	return d, nil
}

func (f *fakeStore) SoftDeleteDraft(_ context.Context, owner, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drafts[id]
	if !ok || d.UserID != owner || d.Status == store.DraftStatusDeleted {
		return false, nil
	}
	now := f.tick()
	d.Status = store.DraftStatusDeleted
	d.DeletedAt = &now
	d.UpdatedAt = now
	d.Version++
	f.drafts[id] = d
	return true, nil
}

func (f *fakeStore) RevokeSession(_ context.Context, hash string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[hash] = expiresAt
	return nil
}

func (f *fakeStore) IsSessionRevoked(_ context.Context, hash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.revoked[hash]
	return ok, nil
}

func (f *fakeStore) Ping(context.Context) error {
	return f.pingErr
}

type fakeGoogle struct {
	mu          sync.Mutex
	configured  bool
	exchangeErr error
	userInfoErr error
	profile     oauth.Profile
	exchanged   []string
}

func (g *fakeGoogle) Configured() bool { return g.configured }

func (g *fakeGoogle) AuthCodeURL(state string) string {
	return "https://accounts.example.test/auth?state=" + state
}

func (g *fakeGoogle) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.exchanged = append(g.exchanged, code)
	if g.exchangeErr != nil {
		return nil, g.exchangeErr
	}
	return &oauth2.Token{AccessToken: "access-" + code}, nil
}

func (g *fakeGoogle) UserInfo(context.Context, *oauth2.Token) (oauth.Profile, error) {
	if g.userInfoErr != nil {
		return oauth.Profile{}, g.userInfoErr
	}
	return g.profile, nil
}

type fakeSearch struct {
	mu      sync.Mutex
	queries []search.Query
	indexed []string
	deleted []string
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return search.Response{Results: []search.Result{{ID: "d-1", Title: "hit"}}, Total: 1, Query: q.Text}
}

func (f *fakeSearch) IndexDraft(d store.Draft) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, d.ID)
}

func (f *fakeSearch) DeleteDraft(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

func testConfig() config.Config {
	return config.Config{
		SessionSecret: testSecret,
		SessionTTL:    7 * 24 * time.Hour,
		StateTTL:      10 * time.Minute,
		CookieSecure:  true,
		CORSOrigin:    "*",
		AppURL:        "https://app.thamly.test",
	}
}

type testEnv struct {
	store   *fakeStore
	google  *fakeGoogle
	search  *fakeSearch
	service *Service
	rooms   *collab.Gateway
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:  newFakeStore(),
		google: &fakeGoogle{configured: true},
		search: &fakeSearch{},
		rooms:  collab.NewGateway(logging.Discard()),
	}
	t.Cleanup(env.rooms.Close)

	hasher := &authpw.Hasher{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	svc, err := New(testConfig(), env.store, hasher,
		WithGoogle(env.google),
		WithSearch(env.search),
		WithLogger(logging.Discard()),
	)
	require.NoError(t, err)
	env.service = svc
	env.handler = NewHTTPServer(svc, env.rooms, testConfig()).Handler()
	return env
}

// tokenFor signs a session for user the way a successful login would.
func tokenFor(t *testing.T, user store.User) string {
	t.Helper()
	token, _, err := auth.IssueSession([]byte(testSecret), user.ID, user.Email, user.FullName, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := newRequest(method, path, body)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
	}
	return serve(e, req)
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload), "body=%s", rr.Body.String())
	return payload
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rr.Code, "body=%s", rr.Body.String())
	payload := decode(t, rr)
	require.Equal(t, code, payload["error"])
	require.NotEmpty(t, payload["message"])
}

func sessionCookieOf(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatalf("no session cookie in response, headers=%v", rr.Header())
	return nil
}

func newRequest(method, path, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func serve(e *testEnv, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}
