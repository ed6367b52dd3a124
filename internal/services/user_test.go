package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jjudge-oj/userservice/internal/logging"
	"github.com/jjudge-oj/userservice/internal/store"
	"github.com/jjudge-oj/userservice/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]types.User
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: make(map[int64]types.User)}
}

func (r *fakeRepo) Create(_ context.Context, username, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username || u.Email == email {
			return types.User{}, store.ErrConflict
		}
	}
	r.nextID++
	u := types.User{ID: r.nextID, Username: username, Email: email, CreatedAt: time.Now().UTC()}
	r.users[u.ID] = u
	return u, nil
}

func (r *fakeRepo) GetByID(_ context.Context, id int64) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (r *fakeRepo) List(_ context.Context) ([]types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.User, 0, len(r.users))
	for id := int64(1); id <= r.nextID; id++ {
		if u, ok := r.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *fakeRepo) Update(_ context.Context, id int64, username, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	u.Username, u.Email = username, email
	r.users[id] = u
	return u, nil
}

func (r *fakeRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	events   []types.UserEvent
	err      error
}

func (p *fakePublisher) PublishUserEvent(_ context.Context, channel string, evt types.UserEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.channels = append(p.channels, channel)
	p.events = append(p.events, evt)
	return evt.ID, nil
}

func TestUserService_PublishesAfterMutations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	pub := &fakePublisher{}
	svc := NewUserService(newFakeRepo(), WithEvents(pub, "users"))

	created, err := svc.Create(ctx, "ada", "ada@example.com")
	require.NoError(t, err)
	_, err = svc.Update(ctx, created.ID, "countess", "countess@example.com")
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, created.ID))

	require.Len(t, pub.events, 3)
	assert.Equal(t, []string{"users", "users", "users"}, pub.channels)
	assert.Equal(t, types.EventUserCreated, pub.events[0].Type)
	assert.Equal(t, "ada", pub.events[0].User.Username)
	assert.Equal(t, types.EventUserUpdated, pub.events[1].Type)
	assert.Equal(t, "countess", pub.events[1].User.Username)
	assert.Equal(t, types.EventUserDeleted, pub.events[2].Type)
	assert.Nil(t, pub.events[2].User)
	assert.Equal(t, created.ID, pub.events[2].UserID)
	assert.NotEqual(t, pub.events[0].ID, pub.events[1].ID)
}

func TestUserService_FailedMutationsPublishNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	pub := &fakePublisher{}
	svc := NewUserService(newFakeRepo(), WithEvents(pub, "users"))

	_, err := svc.Create(ctx, "ada", "ada@example.com")
	require.NoError(t, err)

	_, err = svc.Create(ctx, "ada", "other@example.com")
	require.ErrorIs(t, err, store.ErrConflict)
	_, err = svc.Update(ctx, 99, "x", "x@example.com")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, svc.Delete(ctx, 99), store.ErrNotFound)

	assert.Len(t, pub.events, 1)
}

func TestUserService_PublishFailureIsNotSurfaced(t *testing.T) {
	t.Parallel()

	var (
		observed []types.EventType
		errs     []error
	)
	pub := &fakePublisher{err: errors.New("broker down")}
	svc := NewUserService(newFakeRepo(),
		WithEvents(pub, "users"),
		WithPublishObserver(func(eventType types.EventType, err error) {
			observed = append(observed, eventType)
			errs = append(errs, err)
		}),
	)

	ctx := logging.WithContext(context.Background(), logging.Discard())
	user, err := svc.Create(ctx, "ada", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)

	assert.Equal(t, []types.EventType{types.EventUserCreated}, observed)
	require.Len(t, errs, 1)
	assert.Error(t, errs[0])
}

func TestUserService_WithoutEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc := NewUserService(newFakeRepo())
	user, err := svc.Create(ctx, "ada", "ada@example.com")
	require.NoError(t, err)

	got, err := svc.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user, got)

	users, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}
