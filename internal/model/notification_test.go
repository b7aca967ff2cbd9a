package model

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNotification_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		n         Notification
		wantField string
	}{
		{name: "valid unread", n: Notification{ID: "1", UserID: "u1"}},
		{name: "valid read", n: Notification{ID: "1", UserID: "u1", IsRead: true, ReadAt: &now}},
		{name: "empty title is allowed", n: Notification{ID: "1", UserID: "u1", Title: ""}},
		{name: "missing id", n: Notification{UserID: "u1"}, wantField: "id"},
		{name: "missing user", n: Notification{ID: "1"}, wantField: "userId"},
		{name: "read without readAt", n: Notification{ID: "1", UserID: "u1", IsRead: true}, wantField: "readAt"},
		{name: "readAt without read", n: Notification{ID: "1", UserID: "u1", ReadAt: &now}, wantField: "readAt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.n.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var vErr *ValidationError
			if assert.ErrorAs(t, err, &vErr) {
				assert.Equal(t, tt.wantField, vErr.Field)
			}
		})
	}
}

func TestPage_Offset(t *testing.T) {
	assert.Equal(t, 0, Page{Page: 1, Limit: 20}.Offset())
	assert.Equal(t, 0, Page{Page: 0, Limit: 20}.Offset())
	assert.Equal(t, 40, Page{Page: 3, Limit: 20}.Offset())
	assert.Equal(t, math.MaxInt, Page{Page: math.MaxInt, Limit: 20}.Offset())
}

func TestErrors_Unwrap(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := error(&DataCorruptionError{NotificationID: "n1", Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "n1")

	assert.ErrorIs(t, &NotFoundError{Resource: "notification", ID: "x"}, ErrNotFound)
	assert.ErrorIs(t, &AuthorizationError{Reason: "missing token"}, ErrUnauthenticated)
}
