package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/deemkeen/rabble/domain"
)

const (
	sqlInsertShare          = `INSERT OR IGNORE INTO shares(user_id, article_id, announce_datetime) VALUES (?, ?, ?)`
	sqlIncrementSharesCount = `UPDATE posts SET shares_count = shares_count + 1 WHERE global_id = ?`
	sqlSelectShare          = `SELECT user_id, article_id, announce_datetime FROM shares WHERE user_id = ? AND article_id = ?`
	sqlSelectSharesByPost   = `SELECT user_id, article_id, announce_datetime FROM shares WHERE article_id = ? ORDER BY user_id`
	sqlSelectSharedByUser   = `SELECT ` + postColumns + ` FROM posts
		INNER JOIN shares ON shares.article_id = posts.global_id
		WHERE shares.user_id = ?
		ORDER BY shares.announce_datetime DESC, posts.global_id DESC`
)

// AddShare records an announce and bumps shares_count atomically.
// A repeated (user, article) pair returns false and leaves the counter alone.
func (db *DB) AddShare(userId, articleId int64, at time.Time) (bool, error) {
	if at.IsZero() {
		at = time.Now()
	}

	added := false
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		added = false
		res, err := tx.Exec(sqlInsertShare, userId, articleId, at)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		res, err = tx.Exec(sqlIncrementSharesCount, articleId)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("post %d: %w", articleId, domain.ErrNotFound)
		}
		added = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to add share: %w", err)
	}
	return added, nil
}

func (db *DB) ReadShare(userId, articleId int64) (error, *domain.Share) {
	var s domain.Share
	err := db.db.QueryRow(sqlSelectShare, userId, articleId).Scan(&s.UserId, &s.ArticleId, &s.AnnounceDatetime)
	if err != nil {
		return err, nil
	}
	return nil, &s
}

func (db *DB) ReadSharesByPost(articleId int64) (error, *[]domain.Share) {
	rows, err := db.db.Query(sqlSelectSharesByPost, articleId)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var shares []domain.Share
	for rows.Next() {
		var s domain.Share
		if err := rows.Scan(&s.UserId, &s.ArticleId, &s.AnnounceDatetime); err != nil {
			return err, &shares
		}
		shares = append(shares, s)
	}
	return rows.Err(), &shares
}

func (db *DB) ReadSharedPosts(userId int64) (error, *[]domain.Article) {
	rows, err := db.db.Query(sqlSelectSharedByUser, userId)
	if err != nil {
		return err, nil
	}
	return scanPosts(rows)
}
