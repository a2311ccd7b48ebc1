package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/geocoder89/userhub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, name, email, password_hash, role, is_active, last_login, created_at, updated_at`

// searchField describes one column the free-text search may touch. Enum
// columns are not substring-matchable natively, so they get a ::text cast
// before the ILIKE.
type searchField struct {
	column string
	enum   bool
}

// resolved once; the listing search goes over these columns.
var userSearchFields = []searchField{
	{column: "name"},
	{column: "email"},
}

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

func (r *UsersRepo) scanRow(row pgx.Row) (user.User, error) {
	var u user.User

	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.Role,
		&u.IsActive,
		&u.LastLogin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}

		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	var u user.User
	var err error

	err = r.observe("users.get_by_id", func() error {
		u, err = r.scanRow(r.pool.QueryRow(
			ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1`,
			id,
		))
		return err
	})

	return u, err
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User
	var err error

	err = r.observe("users.get_by_email", func() error {
		u, err = r.scanRow(r.pool.QueryRow(
			ctx,
			`SELECT `+userColumns+` FROM users WHERE email = $1`,
			email,
		))
		return err
	})

	return u, err
}

// Create inserts the user. The unique constraint on email is the final
// backstop for races past the handler-level pre-check.
func (r *UsersRepo) Create(ctx context.Context, u user.User) (user.User, error) {
	err := r.observe("users.create", func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO users(id, name, email, password_hash, role, is_active, last_login, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.IsActive, u.LastLogin, u.CreatedAt, u.UpdatedAt,
		)
		return err
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return user.User{}, user.ErrEmailTaken
		}
		return user.User{}, err
	}

	return u, nil
}

// Update persists the merged record. updated_at is set here so every mutating
// write stamps it.
func (r *UsersRepo) Update(ctx context.Context, u user.User, now time.Time) (user.User, error) {
	var out user.User
	var err error

	err = r.observe("users.update", func() error {
		out, err = r.scanRow(r.pool.QueryRow(
			ctx,
			`UPDATE users
				SET name = $2,
						email = $3,
						password_hash = $4,
						role = $5,
						is_active = $6,
						updated_at = $7
			WHERE id = $1
			RETURNING `+userColumns,
			u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.IsActive, now,
		))
		return err
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return user.User{}, user.ErrEmailTaken
		}
		return user.User{}, err
	}

	return out, nil
}

func (r *UsersRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	var tag pgconn.CommandTag
	var err error

	err = r.observe("users.update_last_login", func() error {
		tag, err = r.pool.Exec(ctx,
			`UPDATE users SET last_login = $2, updated_at = $2 WHERE id = $1`,
			id, at,
		)
		return err
	})

	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (r *UsersRepo) Delete(ctx context.Context, id string) error {
	var tag pgconn.CommandTag
	var err error

	err = r.observe("users.delete", func() error {
		tag, err = r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		return err
	})

	if err != nil {
		return err
	}

	// if no rows were deleted as a result return a not found error
	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}

	return nil
}

// List runs the filtered, paginated listing. The second return value is the
// total number of matches ignoring pagination.
func (r *UsersRepo) List(ctx context.Context, f user.ListUsersFilter) ([]user.User, int, error) {
	query, args := buildUsersListQuery(f, userSearchFields)

	var rows pgx.Rows
	var err error

	err = r.observe("users.list", func() error {
		rows, err = r.pool.Query(ctx, query, args...)
		return err
	})

	if err != nil {
		return nil, 0, err
	}

	defer rows.Close()

	output := make([]user.User, 0, f.Limit)
	total := 0

	for rows.Next() {
		var u user.User
		var t int

		err = rows.Scan(
			&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role,
			&u.IsActive, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt, &t,
		)

		if err != nil {
			return nil, 0, err
		}

		total = t
		output = append(output, u)
	}

	err = rows.Err()

	if err != nil {
		return nil, 0, err
	}

	return output, total, nil
}

// buildUsersListQuery translates the filter into one SQL statement. Every
// value is bound as a positional parameter; the only strings spliced into the
// query text are column names from fixed allow-lists.
func buildUsersListQuery(f user.ListUsersFilter, fields []searchField) (string, []any) {
	baseQuery := `SELECT ` + userColumns + `,
		COUNT(*) OVER() AS total
	FROM users
	`

	var conds []string
	var args []any

	argsPosition := 1

	if f.Search != "" {
		var ors []string

		for _, field := range fields {
			col := field.column
			if field.enum {
				col += "::text"
			}
			ors = append(ors, fmt.Sprintf("%s ILIKE $%d", col, argsPosition))
			args = append(args, "%"+f.Search+"%")
			argsPosition++
		}

		if len(ors) > 0 {
			conds = append(conds, "("+strings.Join(ors, " OR ")+")")
		}
	}

	if f.IsActive != nil {
		conds = append(conds, fmt.Sprintf("is_active = $%d", argsPosition))
		args = append(args, *f.IsActive)
		argsPosition++
	}

	if f.Role != nil {
		conds = append(conds, fmt.Sprintf("role = $%d", argsPosition))
		args = append(args, string(*f.Role))
		argsPosition++
	}

	if f.StartDate != nil {
		conds = append(conds, fmt.Sprintf("created_at >= $%d", argsPosition))
		args = append(args, *f.StartDate)
		argsPosition++
	}

	if f.FinishDate != nil {
		conds = append(conds, fmt.Sprintf("created_at <= $%d", argsPosition))
		args = append(args, *f.FinishDate)
		argsPosition++
	}

	// map order is random; keep the statement deterministic
	extraCols := make([]string, 0, len(f.Equals))
	for col := range f.Equals {
		extraCols = append(extraCols, col)
	}
	sort.Strings(extraCols)

	for _, col := range extraCols {
		conds = append(conds, fmt.Sprintf("%s = $%d", col, argsPosition))
		args = append(args, f.Equals[col])
		argsPosition++
	}

	query := baseQuery

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	// stable ordering for pagination
	query += fmt.Sprintf(" ORDER BY created_at ASC, id ASC LIMIT $%d OFFSET $%d", argsPosition, argsPosition+1)

	args = append(args, f.Limit, f.Offset())

	return query, args
}

// ListInactive returns users whose last login is NULL or before the cutoff,
// oldest login first with never-logged-in users leading.
func (r *UsersRepo) ListInactive(ctx context.Context, cutoff time.Time) ([]user.User, error) {
	var rows pgx.Rows
	var err error

	err = r.observe("users.list_inactive", func() error {
		rows, err = r.pool.Query(ctx,
			`SELECT `+userColumns+`
			 FROM users
			 WHERE last_login IS NULL OR last_login < $1
			 ORDER BY last_login ASC NULLS FIRST, id ASC`,
			cutoff,
		)
		return err
	})

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var output []user.User

	for rows.Next() {
		var u user.User

		err = rows.Scan(
			&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role,
			&u.IsActive, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt,
		)

		if err != nil {
			return nil, err
		}

		output = append(output, u)
	}

	return output, rows.Err()
}
