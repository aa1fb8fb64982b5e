package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/deemkeen/rabble/domain"
)

const (
	sqlInsertFollow          = `INSERT INTO follows(follower, followed, state) VALUES (?, ?, ?)`
	sqlSelectFollow          = `SELECT follower, followed, state FROM follows WHERE follower = ? AND followed = ?`
	sqlSelectFollowsByState  = `SELECT follower, followed, state FROM follows WHERE followed = ? AND state = ? ORDER BY follower`
	sqlTransitionFollowState = `UPDATE follows SET state = ? WHERE follower = ? AND followed = ? AND state = ?`
	sqlUpdateFollowState     = `UPDATE follows SET state = ? WHERE follower = ? AND followed = ?`
	sqlDeleteFollow          = `DELETE FROM follows WHERE follower = ? AND followed = ?`
)

// CreateFollow inserts a new edge; an existing edge yields domain.ErrDuplicate.
func (db *DB) CreateFollow(f *domain.Follow) error {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollow, f.Follower, f.Followed, string(f.State))
		return err
	})
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("follow %d -> %d: %w", f.Follower, f.Followed, domain.ErrDuplicate)
		}
		return fmt.Errorf("failed to create follow: %w", err)
	}
	return nil
}

func (db *DB) ReadFollow(follower, followed int64) (error, *domain.Follow) {
	var f domain.Follow
	var state string
	err := db.db.QueryRow(sqlSelectFollow, follower, followed).Scan(&f.Follower, &f.Followed, &state)
	if err != nil {
		return err, nil
	}
	f.State = domain.FollowState(state)
	return nil, &f
}

// ReadActiveFollowers returns the ACTIVE edges pointing at followed.
func (db *DB) ReadActiveFollowers(followed int64) (error, *[]domain.Follow) {
	rows, err := db.db.Query(sqlSelectFollowsByState, followed, string(domain.FollowActive))
	if err != nil {
		return err, nil
	}
	return scanFollows(rows)
}

// ReadFollows matches every non-zero field of filter.
func (db *DB) ReadFollows(filter domain.FollowFilter) (error, *[]domain.Follow) {
	var where []string
	var args []interface{}
	if filter.Follower != 0 {
		where = append(where, "follower = ?")
		args = append(args, filter.Follower)
	}
	if filter.Followed != 0 {
		where = append(where, "followed = ?")
		args = append(args, filter.Followed)
	}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}

	query := `SELECT follower, followed, state FROM follows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY follower, followed"

	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	return scanFollows(rows)
}

func scanFollows(rows *sql.Rows) (error, *[]domain.Follow) {
	defer rows.Close()

	var follows []domain.Follow
	for rows.Next() {
		var f domain.Follow
		var state string
		if err := rows.Scan(&f.Follower, &f.Followed, &state); err != nil {
			return err, &follows
		}
		f.State = domain.FollowState(state)
		follows = append(follows, f)
	}
	return rows.Err(), &follows
}

// TransitionFollow moves an edge from one state to another in a single
// statement and reports whether a row changed. No matching row is not an error.
func (db *DB) TransitionFollow(follower, followed int64, from, to domain.FollowState) (bool, error) {
	changed := false
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlTransitionFollowState, string(to), follower, followed, string(from))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		changed = n > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to update follow state: %w", err)
	}
	return changed, nil
}

// UpdateFollowState sets the state regardless of the current one.
func (db *DB) UpdateFollowState(follower, followed int64, state domain.FollowState) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlUpdateFollowState, string(state), follower, followed)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("follow %d -> %d: %w", follower, followed, domain.ErrNotFound)
		}
		return nil
	})
}

// DeleteFollow removes the edge in any state and reports whether it existed.
func (db *DB) DeleteFollow(follower, followed int64) (bool, error) {
	deleted := false
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlDeleteFollow, follower, followed)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		deleted = n > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete follow: %w", err)
	}
	return deleted, nil
}
