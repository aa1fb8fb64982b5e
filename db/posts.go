package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/rabble/domain"
)

const (
	postColumns = `posts.global_id, posts.author_id, posts.title, posts.body, posts.md_body, COALESCE(posts.ap_id, ''),
		posts.creation_datetime, posts.likes_count, posts.shares_count, posts.tags, posts.summary`

	sqlInsertPost = `INSERT INTO posts(author_id, title, body, md_body, ap_id, creation_datetime, tags, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectPostById      = `SELECT ` + postColumns + ` FROM posts WHERE global_id = ?`
	sqlSelectPostByApId    = `SELECT ` + postColumns + ` FROM posts WHERE ap_id = ?`
	sqlSelectPostsByAuthor = `SELECT ` + postColumns + ` FROM posts WHERE author_id = ? ORDER BY creation_datetime DESC, global_id DESC LIMIT ? OFFSET ?`
	sqlCountPostsByAuthor  = `SELECT COUNT(*) FROM posts WHERE author_id = ?`
	sqlSelectInstanceFeed  = `SELECT ` + postColumns + ` FROM posts
		INNER JOIN users ON users.global_id = posts.author_id
		WHERE users.host = ''
		ORDER BY posts.creation_datetime DESC, posts.global_id DESC LIMIT ?`
	sqlSearchPosts = `SELECT ` + postColumns + ` FROM posts
		WHERE posts.title LIKE ? ESCAPE '\' OR posts.body LIKE ? ESCAPE '\' OR posts.tags LIKE ? ESCAPE '\'
		ORDER BY posts.creation_datetime DESC, posts.global_id DESC LIMIT ?`
	sqlUpdatePost        = `UPDATE posts SET title = ?, body = ?, md_body = ?, summary = ?, tags = ? WHERE global_id = ?`
	sqlUpdatePostContent = `UPDATE posts SET title = ?, body = ?, md_body = ?, summary = ? WHERE global_id = ?`
	sqlDeletePost        = `DELETE FROM posts WHERE global_id = ?`
)

func scanPost(row interface{ Scan(...interface{}) error }) (*domain.Article, error) {
	var a domain.Article
	err := row.Scan(&a.GlobalId, &a.AuthorId, &a.Title, &a.Body, &a.MdBody, &a.ApId,
		&a.CreationDatetime, &a.LikesCount, &a.SharesCount, &a.Tags, &a.Summary)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanPosts(rows *sql.Rows) (error, *[]domain.Article) {
	defer rows.Close()

	var posts []domain.Article
	for rows.Next() {
		a, err := scanPost(rows)
		if err != nil {
			return err, &posts
		}
		posts = append(posts, *a)
	}
	return rows.Err(), &posts
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// CreatePost stores a and returns its global id. A clashing ap_id yields domain.ErrDuplicate.
func (db *DB) CreatePost(a *domain.Article) (int64, error) {
	if a.CreationDatetime.IsZero() {
		a.CreationDatetime = time.Now()
	}

	var id int64
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlInsertPost, a.AuthorId, a.Title, a.Body, a.MdBody, nullIfEmpty(a.ApId),
			a.CreationDatetime, a.Tags, a.Summary)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		if isConstraint(err) {
			return 0, fmt.Errorf("post %s: %w", a.ApId, domain.ErrDuplicate)
		}
		return 0, fmt.Errorf("failed to create post: %w", err)
	}
	a.GlobalId = id
	return id, nil
}

func (db *DB) ReadPostById(id int64) (error, *domain.Article) {
	a, err := scanPost(db.db.QueryRow(sqlSelectPostById, id))
	if err != nil {
		return err, nil
	}
	return nil, a
}

func (db *DB) ReadPostByApId(apId string) (error, *domain.Article) {
	a, err := scanPost(db.db.QueryRow(sqlSelectPostByApId, apId))
	if err != nil {
		return err, nil
	}
	return nil, a
}

func (db *DB) ReadPostsByAuthor(authorId int64, limit int) (error, *[]domain.Article) {
	return db.ReadPostsByAuthorPage(authorId, limit, 0)
}

// ReadPostsByAuthorPage skips the newest offset articles.
func (db *DB) ReadPostsByAuthorPage(authorId int64, limit, offset int) (error, *[]domain.Article) {
	if offset < 0 {
		offset = 0
	}
	rows, err := db.db.Query(sqlSelectPostsByAuthor, authorId, clampLimit(limit), offset)
	if err != nil {
		return err, nil
	}
	return scanPosts(rows)
}

func (db *DB) CountPostsByAuthor(authorId int64) (error, int) {
	var n int
	if err := db.db.QueryRow(sqlCountPostsByAuthor, authorId).Scan(&n); err != nil {
		return err, 0
	}
	return nil, n
}

// ReadInstanceFeed lists the newest articles written by local users.
func (db *DB) ReadInstanceFeed(limit int) (error, *[]domain.Article) {
	rows, err := db.db.Query(sqlSelectInstanceFeed, clampLimit(limit))
	if err != nil {
		return err, nil
	}
	return scanPosts(rows)
}

// SearchPosts does a case-insensitive substring match over title, body and tags.
func (db *DB) SearchPosts(query string, limit int) (error, *[]domain.Article) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(query)
	pattern := "%" + escaped + "%"
	rows, err := db.db.Query(sqlSearchPosts, pattern, pattern, pattern, clampLimit(limit))
	if err != nil {
		return err, nil
	}
	return scanPosts(rows)
}

// UpdatePost overwrites the editable fields, tags included.
func (db *DB) UpdatePost(a *domain.Article) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlUpdatePost, a.Title, a.Body, a.MdBody, a.Summary, a.Tags, a.GlobalId)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("post %d: %w", a.GlobalId, domain.ErrNotFound)
		}
		return nil
	})
}

// UpdatePostContent is the narrower update applied by Update activities.
func (db *DB) UpdatePostContent(id int64, title, body, mdBody, summary string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlUpdatePostContent, title, body, mdBody, summary, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("post %d: %w", id, domain.ErrNotFound)
		}
		return nil
	})
}

// DeletePost removes only the post row.
func (db *DB) DeletePost(id int64) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlDeletePost, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("post %d: %w", id, domain.ErrNotFound)
		}
		return nil
	})
}

// SafeRemovePost deletes a post together with its likes and shares.
// It reports false when the post was already gone.
func (db *DB) SafeRemovePost(id int64) (bool, error) {
	removed := false
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM likes WHERE article_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM shares WHERE article_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.Exec(sqlDeletePost, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		removed = n > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to remove post: %w", err)
	}
	return removed, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
