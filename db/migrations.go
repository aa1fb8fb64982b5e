package db

import (
	"database/sql"
	"log"
)

const (
	// host is '' for local users; host_is_null mirrors that so the
	// (handle, host) uniqueness holds for local rows too.
	sqlCreateUsersTable = `CREATE TABLE IF NOT EXISTS users (
		global_id INTEGER PRIMARY KEY AUTOINCREMENT,
		handle TEXT NOT NULL,
		host TEXT NOT NULL DEFAULT '',
		host_is_null INTEGER NOT NULL DEFAULT 1,
		display_name TEXT NOT NULL DEFAULT '',
		bio TEXT NOT NULL DEFAULT '',
		password TEXT NOT NULL DEFAULT '',
		public_key TEXT NOT NULL DEFAULT '',
		private_key TEXT NOT NULL DEFAULT '',
		private INTEGER NOT NULL DEFAULT 0,
		post_title_css TEXT NOT NULL DEFAULT '',
		post_body_css TEXT NOT NULL DEFAULT '',
		UNIQUE(handle, host)
	)`

	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts (
		global_id INTEGER PRIMARY KEY AUTOINCREMENT,
		author_id INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		md_body TEXT NOT NULL DEFAULT '',
		ap_id TEXT,
		creation_datetime TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		likes_count INTEGER NOT NULL DEFAULT 0,
		shares_count INTEGER NOT NULL DEFAULT 0,
		tags TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT ''
	)`

	sqlCreatePostsIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_posts_ap_id ON posts(ap_id) WHERE ap_id IS NOT NULL AND ap_id != '';
		CREATE INDEX IF NOT EXISTS idx_posts_author_id ON posts(author_id);
	`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		follower INTEGER NOT NULL,
		followed INTEGER NOT NULL,
		state TEXT NOT NULL DEFAULT 'ACTIVE',
		PRIMARY KEY (follower, followed)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_followed_state ON follows(followed, state);
	`

	sqlCreateLikesTable = `CREATE TABLE IF NOT EXISTS likes (
		user_id INTEGER NOT NULL,
		article_id INTEGER NOT NULL,
		PRIMARY KEY (user_id, article_id)
	)`

	sqlCreateSharesTable = `CREATE TABLE IF NOT EXISTS shares (
		user_id INTEGER NOT NULL,
		article_id INTEGER NOT NULL,
		announce_datetime TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, article_id)
	)`

	sqlCreateLikesIndices = `
		CREATE INDEX IF NOT EXISTS idx_likes_article_id ON likes(article_id);
		CREATE INDEX IF NOT EXISTS idx_shares_article_id ON shares(article_id);
	`

	// Inbound activity log
	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT NOT NULL DEFAULT '',
		activity_type TEXT NOT NULL,
		actor_uri TEXT NOT NULL DEFAULT '',
		object_uri TEXT NOT NULL DEFAULT '',
		raw_json TEXT NOT NULL,
		result TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateActivitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_activities_object_uri ON activities(object_uri);
		CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at);
	`
)

// RunMigrations creates every table and index. It is safe to run on each start.
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		tables := []struct {
			name string
			sql  string
		}{
			{"users", sqlCreateUsersTable},
			{"posts", sqlCreatePostsTable},
			{"follows", sqlCreateFollowsTable},
			{"likes", sqlCreateLikesTable},
			{"shares", sqlCreateSharesTable},
			{"activities", sqlCreateActivitiesTable},
		}
		for _, t := range tables {
			if err := db.createTableIfNotExists(tx, t.sql, t.name); err != nil {
				return err
			}
		}

		for _, idx := range []string{sqlCreatePostsIndices, sqlCreateFollowsIndices, sqlCreateLikesIndices, sqlCreateActivitiesIndices} {
			if _, err := tx.Exec(idx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	return nil
}
