package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/geocoder89/userhub/internal/auth"
	"github.com/geocoder89/userhub/internal/domain/job"
	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/geocoder89/userhub/internal/http/handlers"
	"github.com/geocoder89/userhub/internal/http/middlewares"
	"github.com/geocoder89/userhub/internal/security"
	"github.com/gin-gonic/gin"
)

type fakeUsersRepo struct {
	byID map[string]user.User

	listFilter  *user.ListUsersFilter
	listResult  []user.User
	listTotal   int
	lastCutoff  time.Time
	inactiveSet []user.User
}

func newFakeUsersRepo(users ...user.User) *fakeUsersRepo {
	r := &fakeUsersRepo{byID: map[string]user.User{}}
	for _, u := range users {
		r.byID[u.ID] = u
	}
	return r
}

func (r *fakeUsersRepo) Create(_ context.Context, u user.User) (user.User, error) {
	for _, existing := range r.byID {
		if existing.Email == u.Email {
			return user.User{}, user.ErrEmailTaken
		}
	}
	r.byID[u.ID] = u
	return u, nil
}

func (r *fakeUsersRepo) GetByID(_ context.Context, id string) (user.User, error) {
	u, ok := r.byID[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func (r *fakeUsersRepo) GetByEmail(_ context.Context, email string) (user.User, error) {
	for _, u := range r.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (r *fakeUsersRepo) Update(_ context.Context, u user.User, now time.Time) (user.User, error) {
	if _, ok := r.byID[u.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	u.UpdatedAt = &now
	r.byID[u.ID] = u
	return u, nil
}

func (r *fakeUsersRepo) Delete(_ context.Context, id string) error {
	if _, ok := r.byID[id]; !ok {
		return user.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

func (r *fakeUsersRepo) List(_ context.Context, f user.ListUsersFilter) ([]user.User, int, error) {
	r.listFilter = &f
	return r.listResult, r.listTotal, nil
}

func (r *fakeUsersRepo) ListInactive(_ context.Context, cutoff time.Time) ([]user.User, error) {
	r.lastCutoff = cutoff
	return r.inactiveSet, nil
}

type fakeJobsCreator struct {
	created []job.CreateRequest
}

func (f *fakeJobsCreator) Create(_ context.Context, req job.CreateRequest) (job.Job, error) {
	f.created = append(f.created, req)
	return job.New(req), nil
}

type usersTestEnv struct {
	router *gin.Engine
	repo   *fakeUsersRepo
	jobs   *fakeJobsCreator
	jwt    *auth.Manager
}

func newUsersTestEnv(t *testing.T, users ...user.User) *usersTestEnv {
	t.Helper()

	gin.SetMode(gin.TestMode)

	repo := newFakeUsersRepo(users...)
	jobsCreator := &fakeJobsCreator{}
	jwt := auth.NewManager("test-secret", time.Hour)

	h := handlers.NewUsersHandler(repo, jobsCreator, nil)
	authMW := middlewares.NewAuthMiddleware(jwt)

	r := gin.New()
	r.POST("/users", h.Register)

	authed := r.Group("/", authMW.RequireAuth())
	authed.GET("/users/me", h.Me)
	authed.PATCH("/users/me", h.UpdateMe)

	admin := r.Group("/", authMW.RequireAuth(), authMW.RequireRole("admin"))
	admin.GET("/users", h.List)
	admin.GET("/users/inactive", h.ListInactive)
	admin.PATCH("/users/:id", h.UpdateByID)
	admin.DELETE("/users/:id", h.Delete)

	return &usersTestEnv{router: r, repo: repo, jobs: jobsCreator, jwt: jwt}
}

func (e *usersTestEnv) do(t *testing.T, method, path, body string, as *user.User) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}

	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	if as != nil {
		token, err := e.jwt.IssueAccessToken(as.ID, as.Name, string(as.Role))
		if err != nil {
			t.Fatalf("IssueAccessToken: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	return w
}

func adminUser(t *testing.T) user.User {
	t.Helper()
	return user.New("Root", "root@example.com", mustHash(t, "admin-pass"), user.RoleAdmin, time.Now().UTC())
}

func TestRegister(t *testing.T) {
	env := newUsersTestEnv(t)

	w := env.do(t, http.MethodPost, "/users", `{"name":"Ada","email":"ada@example.com","password":"s3cret"}`, nil)

	if w.Code != http.StatusCreated {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
	}

	var view user.View
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if view.Role != user.RoleUser {
		t.Fatalf("got role %q, want %q", view.Role, user.RoleUser)
	}
	if !view.IsActive {
		t.Fatalf("new user should be active")
	}

	if strings.Contains(w.Body.String(), "password") {
		t.Fatalf("response leaks password material: %s", w.Body.String())
	}

	stored, err := env.repo.GetByEmail(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("user not stored: %v", err)
	}
	if stored.PasswordHash == "s3cret" {
		t.Fatalf("password stored in plaintext")
	}
	if !security.VerifyPassword(stored.PasswordHash, "s3cret") {
		t.Fatalf("stored hash does not verify the original password")
	}
}

func TestRegister_ExplicitRole(t *testing.T) {
	env := newUsersTestEnv(t)

	w := env.do(t, http.MethodPost, "/users", `{"name":"Root","email":"root@example.com","password":"s3cret","role":"admin"}`, nil)

	if w.Code != http.StatusCreated {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
	}

	var view user.View
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if view.Role != user.RoleAdmin {
		t.Fatalf("got role %q, want %q", view.Role, user.RoleAdmin)
	}
}

func TestRegister_InvalidRole(t *testing.T) {
	env := newUsersTestEnv(t)

	w := env.do(t, http.MethodPost, "/users", `{"name":"X","email":"x@example.com","password":"s3cret","role":"superuser"}`, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRegister_EnqueuesWelcomeJob(t *testing.T) {
	env := newUsersTestEnv(t)

	env.do(t, http.MethodPost, "/users", `{"name":"Ada","email":"ada@example.com","password":"s3cret"}`, nil)

	if len(env.jobs.created) != 1 {
		t.Fatalf("got %d jobs, want 1", len(env.jobs.created))
	}

	created := env.jobs.created[0]
	if created.Type != "user.welcome" {
		t.Fatalf("got job type %q, want user.welcome", created.Type)
	}
	if created.IdempotencyKey == nil || !strings.HasPrefix(*created.IdempotencyKey, "welcome:user:") {
		t.Fatalf("missing or malformed idempotency key: %v", created.IdempotencyKey)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	existing := user.New("Ada", "ada@example.com", "hash", user.RoleUser, time.Now().UTC())
	env := newUsersTestEnv(t, existing)

	w := env.do(t, http.MethodPost, "/users", `{"name":"Other","email":"ada@example.com","password":"s3cret"}`, nil)

	if w.Code != http.StatusConflict {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusConflict)
	}
	if !strings.Contains(w.Body.String(), "email_taken") {
		t.Fatalf("expected email_taken code, body=%s", w.Body.String())
	}
	if len(env.jobs.created) != 0 {
		t.Fatalf("welcome job enqueued for failed registration")
	}
}

func TestRegister_RejectsShortPassword(t *testing.T) {
	env := newUsersTestEnv(t)

	w := env.do(t, http.MethodPost, "/users", `{"name":"Ada","email":"ada@example.com","password":"abc"}`, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestList(t *testing.T) {
	admin := adminUser(t)
	env := newUsersTestEnv(t, admin)

	env.repo.listResult = []user.User{
		user.New("Ada", "ada@example.com", "hash", user.RoleUser, time.Now().UTC()),
	}
	env.repo.listTotal = 41

	w := env.do(t, http.MethodGet, "/users?search=ada&page=3&limit=10", "", &admin)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Data  []user.View `json:"data"`
		Count int         `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.Count != 41 {
		t.Fatalf("got count %d, want 41", resp.Count)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("got %d rows, want 1", len(resp.Data))
	}

	got := env.repo.listFilter
	if got == nil {
		t.Fatalf("repo never received a filter")
	}
	if got.Search != "ada" || got.Page != 3 || got.Limit != 10 {
		t.Fatalf("filter mismatch: %+v", got)
	}

	if w.Header().Get("ETag") == "" {
		t.Fatalf("list response missing ETag")
	}
}

func TestList_RequiresAdmin(t *testing.T) {
	regular := user.New("Ada", "ada@example.com", "hash", user.RoleUser, time.Now().UTC())
	env := newUsersTestEnv(t, regular)

	w := env.do(t, http.MethodGet, "/users", "", &regular)

	if w.Code != http.StatusForbidden {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestListInactive_CutoffIsThirtyDays(t *testing.T) {
	admin := adminUser(t)
	env := newUsersTestEnv(t, admin)

	before := time.Now().UTC()
	w := env.do(t, http.MethodGet, "/users/inactive", "", &admin)
	after := time.Now().UTC()

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusOK)
	}

	wantLow := before.Add(-30 * 24 * time.Hour)
	wantHigh := after.Add(-30 * 24 * time.Hour)

	if env.repo.lastCutoff.Before(wantLow) || env.repo.lastCutoff.After(wantHigh) {
		t.Fatalf("cutoff %v outside [%v, %v]", env.repo.lastCutoff, wantLow, wantHigh)
	}
}

func TestMe(t *testing.T) {
	me := user.New("Ada", "ada@example.com", "hash", user.RoleUser, time.Now().UTC())
	env := newUsersTestEnv(t, me)

	w := env.do(t, http.MethodGet, "/users/me", "", &me)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}

	var view user.View
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if view.ID != me.ID {
		t.Fatalf("got id %q, want %q", view.ID, me.ID)
	}
}

func TestMe_WithoutToken(t *testing.T) {
	env := newUsersTestEnv(t)

	w := env.do(t, http.MethodGet, "/users/me", "", nil)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestUpdateMe(t *testing.T) {
	me := user.New("Ada", "ada@example.com", mustHash(t, "old-pass"), user.RoleUser, time.Now().UTC())
	env := newUsersTestEnv(t, me)

	w := env.do(t, http.MethodPatch, "/users/me", `{"name":"Ada L.","password":"new-pass"}`, &me)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}

	stored, _ := env.repo.GetByID(context.Background(), me.ID)
	if stored.Name != "Ada L." {
		t.Fatalf("got name %q, want %q", stored.Name, "Ada L.")
	}
	if stored.Email != me.Email {
		t.Fatalf("email changed unexpectedly: %q", stored.Email)
	}
	if !security.VerifyPassword(stored.PasswordHash, "new-pass") {
		t.Fatalf("password was not re-hashed")
	}
	if stored.UpdatedAt == nil {
		t.Fatalf("updatedAt not stamped")
	}
}

func TestUpdateMe_CannotChangeOwnRole(t *testing.T) {
	me := user.New("Ada", "ada@example.com", "hash", user.RoleUser, time.Now().UTC())
	env := newUsersTestEnv(t, me)

	w := env.do(t, http.MethodPatch, "/users/me", `{"role":"admin"}`, &me)

	if w.Code != http.StatusForbidden {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusForbidden)
	}

	stored, _ := env.repo.GetByID(context.Background(), me.ID)
	if stored.Role != user.RoleUser {
		t.Fatalf("role escalated to %q", stored.Role)
	}
}

func TestUpdateByID(t *testing.T) {
	admin := adminUser(t)
	target := user.New("Ada", "ada@example.com", "hash", user.RoleUser, time.Now().UTC())
	env := newUsersTestEnv(t, admin, target)

	w := env.do(t, http.MethodPatch, "/users/"+target.ID, `{"role":"admin","isActive":false}`, &admin)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}

	stored, _ := env.repo.GetByID(context.Background(), target.ID)
	if stored.Role != user.RoleAdmin {
		t.Fatalf("got role %q, want admin", stored.Role)
	}
	if stored.IsActive {
		t.Fatalf("isActive not cleared")
	}
}

func TestUpdateByID_EmailCollision(t *testing.T) {
	admin := adminUser(t)
	a := user.New("Ada", "ada@example.com", "hash", user.RoleUser, time.Now().UTC())
	b := user.New("Grace", "grace@example.com", "hash", user.RoleUser, time.Now().UTC())
	env := newUsersTestEnv(t, admin, a, b)

	w := env.do(t, http.MethodPatch, "/users/"+a.ID, `{"email":"grace@example.com"}`, &admin)

	if w.Code != http.StatusConflict {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusConflict, w.Body.String())
	}
}

func TestUpdateByID_OwnEmailIsNotACollision(t *testing.T) {
	admin := adminUser(t)
	a := user.New("Ada", "ada@example.com", "hash", user.RoleUser, time.Now().UTC())
	env := newUsersTestEnv(t, admin, a)

	w := env.do(t, http.MethodPatch, "/users/"+a.ID, `{"email":"ada@example.com","name":"Ada L."}`, &admin)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestUpdateByID_NotFound(t *testing.T) {
	admin := adminUser(t)
	env := newUsersTestEnv(t, admin)

	w := env.do(t, http.MethodPatch, "/users/missing-id", `{"name":"x"}`, &admin)

	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestDelete(t *testing.T) {
	admin := adminUser(t)
	target := user.New("Ada", "ada@example.com", "hash", user.RoleUser, time.Now().UTC())
	env := newUsersTestEnv(t, admin, target)

	w := env.do(t, http.MethodDelete, "/users/"+target.ID, "", &admin)

	if w.Code != http.StatusNoContent {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusNoContent)
	}

	if _, err := env.repo.GetByID(context.Background(), target.ID); err == nil {
		t.Fatalf("user still present after delete")
	}
}

func TestDelete_NotFound(t *testing.T) {
	admin := adminUser(t)
	env := newUsersTestEnv(t, admin)

	w := env.do(t, http.MethodDelete, "/users/missing-id", "", &admin)

	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusNotFound)
	}
}
