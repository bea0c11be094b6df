package sqlxrepos

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/maombi/core"
	"github.com/trezcool/maombi/core/user"
)

const userTable = `"user"`

var userColumns = []string{
	"id", "name", "username", "email", "is_active", "roles",
	"password_hash", "created_at", "updated_at", "last_login",
}

type dbUser struct {
	ID           string         `db:"id"`
	Name         null.String    `db:"name"`
	Username     null.String    `db:"username"`
	Email        null.String    `db:"email"`
	IsActive     null.Bool      `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	PasswordHash null.Bytes     `db:"password_hash"`
	CreatedAt    null.Time      `db:"created_at"`
	UpdatedAt    null.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

type userRepository struct {
	db core.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db core.DB) *userRepository {
	return &userRepository{db: db}
}

func (repo userRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 {
		return svcExec[0]
	}
	return repo.db
}

func (repo userRepository) pack(usr user.User) dbUser {
	return dbUser{
		ID:           usr.ID,
		Name:         null.NewString(usr.Name, usr.Name != ""),
		Username:     null.NewString(usr.Username, usr.Username != ""),
		Email:        null.NewString(usr.Email, usr.Email != ""),
		IsActive:     null.BoolFromPtr(usr.IsActive),
		Roles:        pq.StringArray(usr.Roles),
		PasswordHash: null.BytesFrom(usr.PasswordHash),
		CreatedAt:    null.NewTime(usr.CreatedAt.UTC(), !usr.CreatedAt.IsZero()),
		UpdatedAt:    null.NewTime(usr.UpdatedAt.UTC(), !usr.UpdatedAt.IsZero()),
		LastLogin:    null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (repo userRepository) unpack(du dbUser) user.User {
	return user.User{
		ID:           du.ID,
		Name:         du.Name.String,
		Username:     du.Username.String,
		Email:        du.Email.String,
		IsActive:     du.IsActive.Ptr(),
		Roles:        du.Roles,
		PasswordHash: du.PasswordHash.Bytes,
		CreatedAt:    du.CreatedAt.Time,
		UpdatedAt:    du.UpdatedAt.Time,
		LastLogin:    du.LastLogin.Time,
	}
}

func (repo userRepository) unpackSlice(dus []dbUser) []user.User {
	users := make([]user.User, 0, len(dus))
	for _, du := range dus {
		users = append(users, repo.unpack(du))
	}
	return users
}

// one runs qb and unpacks the first row, mapping an empty result to
// user.ErrNotFound.
func (repo userRepository) one(ctx context.Context, exe core.DBExecutor, qb sq.SelectBuilder, msg string) (user.User, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, msg)
	}
	rows, err := exe.QueryContext(ctx, query, args...)
	if err != nil {
		return user.User{}, errors.Wrap(err, msg)
	}
	defer func() { _ = rows.Close() }()

	var dus []dbUser
	if err = sqlx.StructScan(rows, &dus); err != nil {
		return user.User{}, errors.Wrap(err, msg)
	}
	if len(dus) == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.unpack(dus[0]), nil
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []user.User, exec ...core.DBExecutor) error {
	qb := psql.Select("id").
		From(userTable).
		Where(sq.Or{sq.Eq{"username": username}, sq.Eq{"email": email}}).
		Limit(1)
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, usr := range excludedUsers {
			ids = append(ids, usr.ID)
		}
		qb = qb.Where(sq.NotEq{"id": ids})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	var id string
	switch err = repo.getExec(exec).QueryRowContext(ctx, query, args...).Scan(&id); err {
	case nil:
		return user.ErrUserExists
	case sql.ErrNoRows:
		return nil
	}
	return errors.Wrap(err, "checking user uniqueness")
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	usr.ID = uuid.New().String()
	du := repo.pack(usr)

	query, args, err := psql.Insert(userTable).
		Columns(userColumns...).
		Values(du.ID, du.Name, du.Username, du.Email, du.IsActive, du.Roles,
			du.PasswordHash, du.CreatedAt, du.UpdatedAt, du.LastLogin).
		ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	if _, err = repo.getExec(exec).ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrUserExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	qb := psql.Select(userColumns...).From(userTable)

	if filter != nil {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			qb = qb.Where(sq.Or{
				sq.ILike{"name": val},
				sq.ILike{"username": val},
				sq.ILike{"email": val},
			})
		}
		// users with any role that starts with any of the provided roles
		if len(filter.Roles) > 0 {
			roleOrs := make(sq.Or, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				roleOrs = append(roleOrs, sq.Expr(
					`id IN (SELECT id FROM "user", UNNEST(roles) user_role WHERE user_role ILIKE ?)`,
					role+"%"))
			}
			qb = qb.Where(roleOrs)
		}
		if filter.IsActive != nil {
			qb = qb.Where(sq.Eq{"is_active": *filter.IsActive})
		}
		if !filter.CreatedFrom.IsZero() {
			qb = qb.Where(sq.GtOrEq{"created_at": filter.CreatedFrom.UTC()})
		}
		if !filter.CreatedTo.IsZero() {
			qb = qb.Where(sq.LtOrEq{"created_at": filter.CreatedTo.UTC()})
		}
	}
	for _, ord := range ordering {
		qb = qb.OrderBy(ord.String())
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	rows, err := repo.getExec(exec).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	defer func() { _ = rows.Close() }()

	var dus []dbUser
	if err = sqlx.StructScan(rows, &dus); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	return repo.unpackSlice(dus), nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	qb := psql.Select(userColumns...).From(userTable)

	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		qb = qb.Where(sq.Eq{"id": filter.ID})
	case filter.Username != "":
		qb = qb.Where(sq.Eq{"username": filter.Username})
	case filter.Email != "":
		qb = qb.Where(sq.Eq{"email": filter.Email})
	case filter.UsernameOrEmail != nil:
		var email string
		uname := filter.UsernameOrEmail[0]
		if len(filter.UsernameOrEmail) == 2 {
			email = filter.UsernameOrEmail[1]
		}
		if email == "" {
			email = uname
		} else if uname == "" {
			uname = email
		}
		if uname == "" {
			return user.User{}, user.ErrNotFound
		}
		qb = qb.Where(sq.Or{sq.Eq{"username": uname}, sq.Eq{"email": email}})
	default:
		return user.User{}, user.ErrNotFound
	}

	return repo.one(ctx, repo.getExec(exec), qb.Limit(1), "finding user")
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	du := repo.pack(usr)
	qb := psql.Update(userTable).
		Set("name", du.Name).
		Set("username", du.Username).
		Set("email", du.Email).
		Set("updated_at", du.UpdatedAt).
		Where(sq.Eq{"id": usr.ID})

	// only save set fields
	if usr.IsActive != nil {
		qb = qb.Set("is_active", du.IsActive)
	}
	if usr.Roles != nil {
		qb = qb.Set("roles", du.Roles)
	}
	if usr.PasswordHash != nil {
		qb = qb.Set("password_hash", du.PasswordHash)
	}
	if !usr.LastLogin.IsZero() {
		qb = qb.Set("last_login", du.LastLogin)
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	res, err := repo.getExec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrUserExists
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.GetUser(ctx, user.GetFilter{ID: usr.ID}, exec...)
}

func (repo userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID == "" {
		return repo.CreateUser(ctx, usr, exec...)
	}
	return repo.UpdateUser(ctx, usr, exec...)
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	query, args, err := psql.Delete(userTable).Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	res, err := repo.getExec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	return int(n), nil
}
