package db

import (
	"database/sql"
	"fmt"

	"github.com/deemkeen/rabble/domain"
)

const (
	sqlInsertLike          = `INSERT OR IGNORE INTO likes(user_id, article_id) VALUES (?, ?)`
	sqlDeleteLike          = `DELETE FROM likes WHERE user_id = ? AND article_id = ?`
	sqlIncrementLikesCount = `UPDATE posts SET likes_count = likes_count + 1 WHERE global_id = ?`
	sqlDecrementLikesCount = `UPDATE posts SET likes_count = likes_count - 1 WHERE global_id = ? AND likes_count > 0`
	sqlSelectLikesByPost   = `SELECT user_id, article_id FROM likes WHERE article_id = ? ORDER BY user_id`
	sqlSelectLikedByUser   = `SELECT ` + postColumns + ` FROM posts
		INNER JOIN likes ON likes.article_id = posts.global_id
		WHERE likes.user_id = ?
		ORDER BY posts.creation_datetime DESC, posts.global_id DESC`
)

// AddLike records a like and bumps likes_count in the same transaction.
// It returns false without touching the counter when the pair already exists.
func (db *DB) AddLike(userId, articleId int64) (bool, error) {
	added := false
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		added = false
		res, err := tx.Exec(sqlInsertLike, userId, articleId)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		res, err = tx.Exec(sqlIncrementLikesCount, articleId)
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
		return false, fmt.Errorf("failed to add like: %w", err)
	}
	return added, nil
}

// RemoveLike deletes the pair and decrements likes_count only if a row went away.
func (db *DB) RemoveLike(userId, articleId int64) (bool, error) {
	removed := false
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		removed = false
		res, err := tx.Exec(sqlDeleteLike, userId, articleId)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		if _, err := tx.Exec(sqlDecrementLikesCount, articleId); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to remove like: %w", err)
	}
	return removed, nil
}

func (db *DB) ReadLikesByPost(articleId int64) (error, *[]domain.Like) {
	rows, err := db.db.Query(sqlSelectLikesByPost, articleId)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var likes []domain.Like
	for rows.Next() {
		var l domain.Like
		if err := rows.Scan(&l.UserId, &l.ArticleId); err != nil {
			return err, &likes
		}
		likes = append(likes, l)
	}
	return rows.Err(), &likes
}

func (db *DB) ReadLikedByUser(userId int64) (error, *[]domain.Article) {
	rows, err := db.db.Query(sqlSelectLikedByUser, userId)
	if err != nil {
		return err, nil
	}
	return scanPosts(rows)
}
