package db

import (
	"database/sql"
	"time"

	"github.com/deemkeen/rabble/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertActivity = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateActivityResult = `UPDATE activities SET result = ? WHERE id = ?`
	sqlSelectRecentActivity = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, result, created_at
		FROM activities ORDER BY created_at DESC LIMIT ?`
)

func (db *DB) CreateActivity(a *domain.Activity) error {
	if a.Id == uuid.Nil {
		a.Id = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity, a.Id.String(), a.ActivityURI, a.ActivityType, a.ActorURI,
			a.ObjectURI, a.RawJSON, a.Result, a.CreatedAt)
		return err
	})
}

func (db *DB) UpdateActivityResult(id uuid.UUID, result string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActivityResult, result, id.String())
		return err
	})
}

func (db *DB) ReadRecentActivities(limit int) (error, *[]domain.Activity) {
	rows, err := db.db.Query(sqlSelectRecentActivity, clampLimit(limit))
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		var a domain.Activity
		var id string
		if err := rows.Scan(&id, &a.ActivityURI, &a.ActivityType, &a.ActorURI, &a.ObjectURI, &a.RawJSON, &a.Result, &a.CreatedAt); err != nil {
			return err, &activities
		}
		a.Id, _ = uuid.Parse(id)
		activities = append(activities, a)
	}
	return rows.Err(), &activities
}
