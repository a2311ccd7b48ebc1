package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/userhub/internal/cache"
	"github.com/geocoder89/userhub/internal/config"
	"github.com/geocoder89/userhub/internal/domain/job"
	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/geocoder89/userhub/internal/http/middlewares"
	"github.com/geocoder89/userhub/internal/jobs"
	"github.com/geocoder89/userhub/internal/security"
	"github.com/gin-gonic/gin"
)

const inactiveAfter = 30 * 24 * time.Hour

type UsersStore interface {
	Create(ctx context.Context, u user.User) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	Update(ctx context.Context, u user.User, now time.Time) (user.User, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f user.ListUsersFilter) ([]user.User, int, error)
	ListInactive(ctx context.Context, cutoff time.Time) ([]user.User, error)
}

type JobsCreator interface {
	Create(ctx context.Context, req job.CreateRequest) (job.Job, error)
}

type UsersHandler struct {
	users UsersStore
	jobs  JobsCreator
	cache *cache.Cache
	now   func() time.Time
}

// jobsRepo and listCache may be nil; registration and listing degrade
// gracefully without them.
func NewUsersHandler(users UsersStore, jobsRepo JobsCreator, listCache *cache.Cache) *UsersHandler {
	return &UsersHandler{
		users: users,
		jobs:  jobsRepo,
		cache: listCache,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// POST /users

func (h *UsersHandler) Register(ctx *gin.Context) {
	var req user.CreateUserRequest

	if !BindJSON(ctx, &req) {
		return
	}

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	var role user.Role
	if req.Role != nil {
		role = *req.Role
	}

	created, err := h.users.Create(cctx, user.New(req.Name, req.Email, hash, role, h.now()))

	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			RespondConflict(ctx, "email_taken", "Email is already in use.")
			return
		}

		RespondInternal(ctx, "Could not create user")
		return
	}

	h.enqueueWelcome(cctx, created)
	h.invalidateList(ctx)

	ctx.JSON(http.StatusCreated, created.AsView())
}

// GET /users

func (h *UsersHandler) List(ctx *gin.Context) {
	filter := user.ParseListFilter(ctx.Request.URL.Query())

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	if h.cache != nil {
		key := h.cache.Key(cctx, "users", ctx.Request.URL.RawQuery)

		if raw, ok := h.cache.Get(cctx, key); ok {
			var payload gin.H
			if json.Unmarshal(raw, &payload) == nil {
				RespondJSONWithETag(ctx, http.StatusOK, payload)
				return
			}
		}
	}

	found, total, err := h.users.List(cctx, filter)

	if err != nil {
		RespondInternal(ctx, "Could not list users")
		return
	}

	views := make([]user.View, 0, len(found))
	for _, u := range found {
		views = append(views, u.AsView())
	}

	payload := gin.H{
		"data":  views,
		"count": total,
	}

	if h.cache != nil {
		if raw, err := json.Marshal(payload); err == nil {
			h.cache.Set(cctx, h.cache.Key(cctx, "users", ctx.Request.URL.RawQuery), raw)
		}
	}

	RespondJSONWithETag(ctx, http.StatusOK, payload)
}

// GET /users/inactive

func (h *UsersHandler) ListInactive(ctx *gin.Context) {
	cutoff := h.now().Add(-inactiveAfter)

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	found, err := h.users.ListInactive(cctx, cutoff)

	if err != nil {
		RespondInternal(ctx, "Could not list inactive users")
		return
	}

	views := make([]user.View, 0, len(found))
	for _, u := range found {
		views = append(views, u.AsView())
	}

	ctx.JSON(http.StatusOK, gin.H{
		"data":  views,
		"count": len(views),
	})
}

// GET /users/me

func (h *UsersHandler) Me(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	found, err := h.users.GetByID(cctx, userID)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not fetch user")
		return
	}

	ctx.JSON(http.StatusOK, found.AsView())
}

// PATCH /users/me

func (h *UsersHandler) UpdateMe(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	var req user.UpdateUserRequest

	if !BindJSON(ctx, &req) {
		return
	}

	// role changes stay admin-only
	if req.Role != nil {
		RespondForbidden(ctx, "Cannot change own role")
		return
	}

	h.applyUpdate(ctx, userID, req)
}

// PATCH /users/:id

func (h *UsersHandler) UpdateByID(ctx *gin.Context) {
	var req user.UpdateUserRequest

	if !BindJSON(ctx, &req) {
		return
	}

	h.applyUpdate(ctx, ctx.Param("id"), req)
}

// DELETE /users/:id

func (h *UsersHandler) Delete(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	err := h.users.Delete(cctx, ctx.Param("id"))

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not delete user")
		return
	}

	h.invalidateList(ctx)

	ctx.Status(http.StatusNoContent)
}

func (h *UsersHandler) applyUpdate(ctx *gin.Context, id string, req user.UpdateUserRequest) {
	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	found, err := h.users.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not update user")
		return
	}

	if req.Name != nil {
		found.Name = *req.Name
	}

	if req.Email != nil && *req.Email != found.Email {
		// collision pre-check gives a clean 409; the unique constraint
		// still backstops races
		if _, err := h.users.GetByEmail(cctx, *req.Email); err == nil {
			RespondConflict(ctx, "email_taken", "Email is already in use.")
			return
		} else if !errors.Is(err, user.ErrNotFound) {
			RespondInternal(ctx, "Could not update user")
			return
		}

		found.Email = *req.Email
	}

	if req.Password != nil {
		hash, err := security.HashPassword(*req.Password)

		if err != nil {
			RespondInternal(ctx, "Could not update user")
			return
		}

		found.PasswordHash = hash
	}

	if req.Role != nil {
		found.Role = *req.Role
	}

	if req.IsActive != nil {
		found.IsActive = *req.IsActive
	}

	updated, err := h.users.Update(cctx, found, h.now())

	if err != nil {
		switch {
		case errors.Is(err, user.ErrEmailTaken):
			RespondConflict(ctx, "email_taken", "Email is already in use.")
		case errors.Is(err, user.ErrNotFound):
			RespondNotFound(ctx, "User not found")
		default:
			RespondInternal(ctx, "Could not update user")
		}
		return
	}

	h.invalidateList(ctx)

	ctx.JSON(http.StatusOK, updated.AsView())
}

func (h *UsersHandler) enqueueWelcome(ctx context.Context, u user.User) {
	if h.jobs == nil {
		return
	}

	raw, err := jobs.EncodePayload(jobs.TypeWelcome, jobs.WelcomePayload{
		UserID: u.ID,
		Email:  u.Email,
		Name:   u.Name,
	})

	if err != nil {
		return
	}

	key := "welcome:user:" + u.ID

	// registration already succeeded; a failed enqueue is not a request error
	_, _ = h.jobs.Create(ctx, job.CreateRequest{
		Type:           jobs.TypeWelcome,
		Payload:        raw,
		RunAt:          h.now(),
		MaxAttempts:    5,
		IdempotencyKey: &key,
	})
}

func (h *UsersHandler) invalidateList(ctx *gin.Context) {
	if h.cache == nil {
		return
	}

	h.cache.Invalidate(ctx.Request.Context(), "users")
}
