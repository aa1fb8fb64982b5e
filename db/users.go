package db

import (
	"database/sql"
	"fmt"

	"github.com/deemkeen/rabble/domain"
)

const (
	userColumns = `global_id, handle, host, display_name, bio, password, public_key, private_key, private, post_title_css, post_body_css`

	sqlInsertUser = `INSERT INTO users(handle, host, host_is_null, display_name, bio, password, public_key, private_key, private, post_title_css, post_body_css)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectUserById     = `SELECT ` + userColumns + ` FROM users WHERE global_id = ?`
	sqlSelectUserByHandle = `SELECT ` + userColumns + ` FROM users WHERE handle = ? AND host = ?`
	sqlUpdateUser         = `UPDATE users SET display_name = ?, bio = ?, password = ?, public_key = ?, private = ?, post_title_css = ?, post_body_css = ? WHERE global_id = ?`
	sqlDeleteUser         = `DELETE FROM users WHERE global_id = ?`
)

func scanUser(row interface{ Scan(...interface{}) error }) (*domain.User, error) {
	var u domain.User
	var private int
	err := row.Scan(&u.GlobalId, &u.Handle, &u.Host, &u.DisplayName, &u.Bio, &u.Password,
		&u.PublicKey, &u.PrivateKey, &private, &u.PostTitleCss, &u.PostBodyCss)
	if err != nil {
		return nil, err
	}
	u.Private = private != 0
	return &u, nil
}

// CreateUser inserts u and returns its global id. A (handle, host) clash
// yields domain.ErrDuplicate so callers can re-query the winner.
func (db *DB) CreateUser(u *domain.User) (int64, error) {
	var id int64
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlInsertUser,
			u.Handle, u.Host, boolToInt(u.Host == ""),
			u.DisplayName, u.Bio, u.Password, u.PublicKey, u.PrivateKey,
			boolToInt(u.Private), u.PostTitleCss, u.PostBodyCss)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		if isConstraint(err) {
			return 0, fmt.Errorf("user %s@%s: %w", u.Handle, u.Host, domain.ErrDuplicate)
		}
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	u.GlobalId = id
	return id, nil
}

func (db *DB) ReadUserById(id int64) (error, *domain.User) {
	u, err := scanUser(db.db.QueryRow(sqlSelectUserById, id))
	if err != nil {
		return err, nil
	}
	return nil, u
}

// ReadUserByHandle looks up a user by handle; host "" means local.
func (db *DB) ReadUserByHandle(handle, host string) (error, *domain.User) {
	u, err := scanUser(db.db.QueryRow(sqlSelectUserByHandle, handle, host))
	if err != nil {
		return err, nil
	}
	return nil, u
}

// UpdateUser overwrites the mutable profile fields of u.
func (db *DB) UpdateUser(u *domain.User) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlUpdateUser, u.DisplayName, u.Bio, u.Password, u.PublicKey, boolToInt(u.Private),
			u.PostTitleCss, u.PostBodyCss, u.GlobalId)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("user %d: %w", u.GlobalId, domain.ErrNotFound)
		}
		return nil
	})
}

// DeleteUser removes a user along with its edges, likes, shares and posts.
func (db *DB) DeleteUser(id int64) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlDeleteUser, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
		}

		if _, err := tx.Exec(`DELETE FROM follows WHERE follower = ? OR followed = ?`, id, id); err != nil {
			return err
		}

		// Undo the counters this user contributed before dropping the rows.
		if _, err := tx.Exec(`UPDATE posts SET likes_count = likes_count - 1 WHERE global_id IN (SELECT article_id FROM likes WHERE user_id = ?)`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE posts SET shares_count = shares_count - 1 WHERE global_id IN (SELECT article_id FROM shares WHERE user_id = ?)`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM likes WHERE user_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM shares WHERE user_id = ?`, id); err != nil {
			return err
		}

		if _, err := tx.Exec(`DELETE FROM likes WHERE article_id IN (SELECT global_id FROM posts WHERE author_id = ?)`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM shares WHERE article_id IN (SELECT global_id FROM posts WHERE author_id = ?)`, id); err != nil {
			return err
		}
		_, err = tx.Exec(`DELETE FROM posts WHERE author_id = ?`, id)
		return err
	})
}
