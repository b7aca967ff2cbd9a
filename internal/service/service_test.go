package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyhub/internal/broker"
	"notifyhub/internal/model"
	"notifyhub/internal/repository"
	"notifyhub/pkg/config"
	"notifyhub/pkg/db"
)

type fixture struct {
	repo   *repository.SQLiteNotificationRepository
	broker *broker.Broker[model.NotificationEvent]
	emit   *EmissionService
	subs   *SubscriptionService
	query  *QueryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sqlDB, err := db.NewSQLite(config.DBConfig{Path: db.MemoryPath}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	repo := repository.NewSQLiteNotificationRepository(sqlDB, zap.NewNop())
	require.NoError(t, repo.EnsureSchema(context.Background()))

	b := broker.New[model.NotificationEvent](broker.WithBufferSize(16))
	t.Cleanup(b.Close)

	return &fixture{
		repo:   repo,
		broker: b,
		emit:   NewEmissionService(repo, b, zap.NewNop()),
		subs:   NewSubscriptionService(b, zap.NewNop()),
		query:  NewQueryService(repo, 0, 0, zap.NewNop()),
	}
}

func ptr[T any](v T) *T { return &v }

func recv(t *testing.T, ch <-chan model.NotificationEvent) model.NotificationEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "stream closed unexpectedly")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return model.NotificationEvent{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan model.NotificationEvent) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s", ev.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func viewIDs(vs []model.NotificationView) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.ID)
	}
	return out
}

// ---- Emission ----

func TestEmit_GeneratesTimeOrderedID(t *testing.T) {
	f := newFixture(t)

	id, err := f.emit.Emit(context.Background(), model.EmitInput{UserID: "u1", Title: ptr("hello")})
	require.NoError(t, err)

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestEmit_KeepsSuppliedID(t *testing.T) {
	f := newFixture(t)

	id, err := f.emit.Emit(context.Background(), model.EmitInput{ID: "custom-1", UserID: "u1", Title: ptr("x")})
	require.NoError(t, err)
	assert.Equal(t, "custom-1", id)
}

func TestEmit_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		in    model.EmitInput
		field string
	}{
		{name: "missing user", in: model.EmitInput{Title: ptr("t")}, field: "userId"},
		{name: "blank user", in: model.EmitInput{UserID: "  ", Title: ptr("t")}, field: "userId"},
		{name: "missing title", in: model.EmitInput{UserID: "u1"}, field: "title"},
		{name: "unencodable metadata", in: model.EmitInput{UserID: "u1", Title: ptr("t"), Metadata: map[string]any{"c": make(chan int)}}, field: "metadata"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.emit.Emit(context.Background(), tt.in)
			var vErr *model.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestEmit_EmptyTitleAllowed(t *testing.T) {
	f := newFixture(t)

	_, err := f.emit.Emit(context.Background(), model.EmitInput{UserID: "u1", Title: ptr("")})
	assert.NoError(t, err)
}

func TestEmit_PublishesPersistedSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := f.subs.Subscribe(ctx, SubscribeRequest{UserID: ptr("u1")})

	id, err := f.emit.Emit(ctx, model.EmitInput{
		UserID:     "u1",
		Title:      ptr("Deploy done"),
		Body:       ptr("v1.2.3 is live"),
		Type:       ptr("deploy"),
		Severity:   ptr("info"),
		NavigateTo: ptr("/deploys/1"),
		Metadata:   map[string]any{"version": "1.2.3", "count": 2},
	})
	require.NoError(t, err)

	ev := recv(t, stream)
	assert.Equal(t, id, ev.ID)
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, "Deploy done", ev.Title)
	assert.Equal(t, "deploy", *ev.Type)
	assert.Equal(t, map[string]any{"version": "1.2.3", "count": float64(2)}, ev.Metadata)
	assert.False(t, ev.IsRead)
	assert.Nil(t, ev.ReadAt)

	// 推送的快照与落库记录一致
	list, _, err := f.query.List(ctx, "u1", ListRequest{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ev.ID, list[0].ID)
	assert.True(t, ev.CreatedAt.Equal(list[0].CreatedAt))
	assert.Equal(t, ev.Metadata, list[0].Metadata)
}

func TestEmit_DuplicateIDNotPublished(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := f.emit.Emit(ctx, model.EmitInput{ID: "same", UserID: "u1", Title: ptr("first")})
	require.NoError(t, err)

	stream := f.subs.Subscribe(ctx, SubscribeRequest{})
	_, err = f.emit.Emit(ctx, model.EmitInput{ID: "same", UserID: "u1", Title: ptr("second")})

	var cErr *model.ConstraintError
	require.ErrorAs(t, err, &cErr)
	assertNoEvent(t, stream)
}

type failingStore struct {
	repository.NotificationStore
	err error
}

func (s failingStore) Insert(context.Context, *model.Notification) error { return s.err }

type recordingPublisher struct{ events []model.NotificationEvent }

func (p *recordingPublisher) Publish(ev model.NotificationEvent) { p.events = append(p.events, ev) }

func TestEmit_StoreFailureNotPublished(t *testing.T) {
	storeErr := errors.New("connection refused")
	pub := &recordingPublisher{}
	svc := NewEmissionService(failingStore{err: storeErr}, pub, zap.NewNop())

	_, err := svc.Emit(context.Background(), model.EmitInput{UserID: "u1", Title: ptr("t")})

	assert.ErrorIs(t, err, storeErr)
	assert.Empty(t, pub.events)
}

type panickingPublisher struct{}

func (panickingPublisher) Publish(model.NotificationEvent) { panic("subscriber registry corrupted") }

func TestEmit_PublishFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	svc := NewEmissionService(f.repo, panickingPublisher{}, zap.NewNop())

	id, err := svc.Emit(context.Background(), model.EmitInput{UserID: "u1", Title: ptr("t")})
	require.NoError(t, err)

	list, _, err := f.query.List(context.Background(), "u1", ListRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, viewIDs(list))
}

// ---- Subscription ----

func TestSubscribe_FanOutAndLateSubscriber(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s1 := f.subs.Subscribe(ctx, SubscribeRequest{})
	s2 := f.subs.Subscribe(ctx, SubscribeRequest{})

	id, err := f.emit.Emit(ctx, model.EmitInput{UserID: "u1", Title: ptr("e")})
	require.NoError(t, err)

	s3 := f.subs.Subscribe(ctx, SubscribeRequest{})

	assert.Equal(t, id, recv(t, s1).ID)
	assert.Equal(t, id, recv(t, s2).ID)
	assertNoEvent(t, s1)
	assertNoEvent(t, s3)
}

func TestSubscribe_FiltersByRecipient(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mine := f.subs.Subscribe(ctx, SubscribeRequest{UserID: ptr("u1")})
	all := f.subs.Subscribe(ctx, SubscribeRequest{})

	_, err := f.emit.Emit(ctx, model.EmitInput{ID: "for-u2", UserID: "u2", Title: ptr("x")})
	require.NoError(t, err)
	_, err = f.emit.Emit(ctx, model.EmitInput{ID: "for-u1", UserID: "u1", Title: ptr("y")})
	require.NoError(t, err)

	assert.Equal(t, "for-u1", recv(t, mine).ID)
	assertNoEvent(t, mine)

	assert.Equal(t, "for-u2", recv(t, all).ID)
	assert.Equal(t, "for-u1", recv(t, all).ID)
}

func TestSubscribe_CancelClosesStreamAndReleasesRegistration(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	stream := f.subs.Subscribe(ctx, SubscribeRequest{UserID: ptr("u1"), LastEventID: "ignored"})
	assert.Equal(t, 1, f.broker.Len())

	cancel()

	select {
	case _, ok := <-stream:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
	assert.Eventually(t, func() bool { return f.broker.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestSubscribe_BrokerCloseEndsStream(t *testing.T) {
	f := newFixture(t)
	stream := f.subs.Subscribe(context.Background(), SubscribeRequest{})

	f.broker.Close()

	select {
	case _, ok := <-stream:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after broker shutdown")
	}
}

// ---- Query ----

func TestQuery_PaginationAndLatestRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for _, title := range []string{"A", "B", "C"} {
		id, err := f.emit.Emit(ctx, model.EmitInput{UserID: "u1", Title: ptr(title)})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	a, b, c := ids[0], ids[1], ids[2]

	page1, page, err := f.query.List(ctx, "u1", ListRequest{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, model.Page{Page: 1, Limit: 2}, page)
	assert.Equal(t, []string{c, b}, viewIDs(page1))

	page2, _, err := f.query.List(ctx, "u1", ListRequest{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{a}, viewIDs(page2))

	res, err := f.query.MarkRead(ctx, "u1", MarkReadRequest{LatestReadID: &b})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.UpdatedCount)

	unread, _, err := f.query.List(ctx, "u1", ListRequest{IsRead: ptr(false)})
	require.NoError(t, err)
	assert.Equal(t, []string{c}, viewIDs(unread))

	read, _, err := f.query.List(ctx, "u1", ListRequest{IsRead: ptr(true)})
	require.NoError(t, err)
	for _, v := range read {
		assert.True(t, v.IsRead)
		require.NotNil(t, v.ReadAt)
		assert.True(t, res.ReadAt.Equal(*v.ReadAt))
	}
}

func TestQuery_MarkAllIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.emit.Emit(ctx, model.EmitInput{UserID: "u1", Title: ptr("t")})
		require.NoError(t, err)
	}
	_, err := f.emit.Emit(ctx, model.EmitInput{UserID: "u2", Title: ptr("t")})
	require.NoError(t, err)

	res, err := f.query.MarkRead(ctx, "u1", MarkReadRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.UpdatedCount)

	res, err = f.query.MarkRead(ctx, "u1", MarkReadRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, res.UpdatedCount)

	// 其他用户的未读不受影响
	unread, _, err := f.query.List(ctx, "u2", ListRequest{IsRead: ptr(false)})
	require.NoError(t, err)
	assert.Len(t, unread, 1)
}

func TestQuery_TypeFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.emit.Emit(ctx, model.EmitInput{ID: "1", UserID: "u1", Title: ptr("t"), Type: ptr("alert")})
	require.NoError(t, err)
	_, err = f.emit.Emit(ctx, model.EmitInput{ID: "2", UserID: "u1", Title: ptr("t"), Type: ptr("digest")})
	require.NoError(t, err)

	got, _, err := f.query.List(ctx, "u1", ListRequest{Type: ptr("alert")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alert", *got[0].Type)
}

func TestQuery_ExplicitUserOverridesCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.emit.Emit(ctx, model.EmitInput{ID: "x", UserID: "u2", Title: ptr("t")})
	require.NoError(t, err)

	got, _, err := f.query.List(ctx, "admin", ListRequest{UserID: ptr("u2")})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, viewIDs(got))

	got, _, err = f.query.List(ctx, "admin", ListRequest{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQuery_PageDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		req      ListRequest
		want     model.Page
		wantErrF string
	}{
		{name: "defaults", req: ListRequest{}, want: model.Page{Page: 1, Limit: DefaultPageSize}},
		{name: "capped", req: ListRequest{Page: 2, Limit: 1000}, want: model.Page{Page: 2, Limit: MaxPageSize}},
		{name: "negative page", req: ListRequest{Page: -1}, wantErrF: "page"},
		{name: "negative limit", req: ListRequest{Limit: -5}, wantErrF: "limit"},
		{name: "offset overflows", req: ListRequest{Page: math.MaxInt, Limit: 20}, wantErrF: "page"},
		{name: "largest page at max limit", req: ListRequest{Page: math.MaxInt/MaxPageSize + 1, Limit: MaxPageSize},
			want: model.Page{Page: math.MaxInt/MaxPageSize + 1, Limit: MaxPageSize}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, page, err := f.query.List(ctx, "u1", tt.req)
			if tt.wantErrF != "" {
				var vErr *model.ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, tt.wantErrF, vErr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, page)
		})
	}
}

func TestQuery_RequiresCaller(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.query.List(context.Background(), "", ListRequest{})
	assert.ErrorIs(t, err, model.ErrUnauthenticated)

	_, err = f.query.MarkRead(context.Background(), "", MarkReadRequest{})
	assert.ErrorIs(t, err, model.ErrUnauthenticated)
}

func TestQuery_CorruptedMetadata(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "invalid json", raw: `{"unterminated":`},
		{name: "array instead of object", raw: `[1,2,3]`},
		{name: "string instead of object", raw: `"str"`},
		{name: "number instead of object", raw: `42`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			now := time.Now().UTC()

			_, err := f.emit.Emit(ctx, model.EmitInput{ID: "ok", UserID: "u1", Title: ptr("fine")})
			require.NoError(t, err)
			require.NoError(t, f.repo.Insert(ctx, &model.Notification{
				ID: "bad", UserID: "u1", Title: "broken",
				Metadata:  json.RawMessage(tt.raw),
				CreatedAt: now, UpdatedAt: now,
			}))

			_, _, err = f.query.List(ctx, "u1", ListRequest{})

			var dErr *model.DataCorruptionError
			require.ErrorAs(t, err, &dErr)
			assert.Equal(t, "bad", dErr.NotificationID)
		})
	}
}

func TestQuery_NullMetadataDecodesToNil(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, f.repo.Insert(ctx, &model.Notification{
		ID: "n", UserID: "u1", Title: "t", Metadata: json.RawMessage(`null`), CreatedAt: now, UpdatedAt: now,
	}))

	got, _, err := f.query.List(ctx, "u1", ListRequest{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Metadata)
}
