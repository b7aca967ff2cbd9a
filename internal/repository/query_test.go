package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"notifyhub/internal/model"
)

func TestBuildListQuery(t *testing.T) {
	user, typ := "u1", "alert"
	unread := false

	query, args := buildListQuery(
		model.ListFilter{UserID: &user, IsRead: &unread, Type: &typ},
		model.Page{Page: 3, Limit: 10},
	)

	assert.Equal(t,
		"SELECT "+notificationColumns+" FROM notifications WHERE user_id = ? AND is_read = ? AND type = ? ORDER BY created_at DESC, seq DESC LIMIT ? OFFSET ?",
		query,
	)
	assert.Equal(t, []any{"u1", false, "alert", 10, 20}, args)
}

func TestBuildListQuery_NoFilter(t *testing.T) {
	query, args := buildListQuery(model.ListFilter{}, model.Page{Page: 1, Limit: 20})

	assert.NotContains(t, query, "WHERE")
	assert.Equal(t, []any{20, 0}, args)
}

func TestBuildMarkReadQuery_Postgres(t *testing.T) {
	latest, sev := "n5", "high"
	readAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	query, args := buildMarkReadQuery(model.MarkReadCriteria{UserID: "u1", LatestReadID: &latest, Severity: &sev}, readAt)

	assert.Equal(t,
		"UPDATE notifications SET is_read = $1, read_at = $2, updated_at = $3 WHERE user_id = $4 AND is_read = $5"+
			" AND seq <= (SELECT seq FROM notifications WHERE id = $6 AND user_id = $7) AND severity = $8",
		rebindPostgres(query),
	)
	assert.Equal(t, []any{true, readAt, readAt, "u1", false, "n5", "u1", "high"}, args)
}

func TestClampPage(t *testing.T) {
	assert.Equal(t, model.Page{Page: 1, Limit: MaxListLimit}, clampPage(model.Page{}))
	assert.Equal(t, model.Page{Page: 2, Limit: MaxListLimit}, clampPage(model.Page{Page: 2, Limit: 5000}))
	assert.Equal(t, model.Page{Page: 1, Limit: 7}, clampPage(model.Page{Page: -1, Limit: 7}))
}
