package services

import (
	"context"
	"log/slog"

	"github.com/jjudge-oj/userservice/internal/logging"
	"github.com/jjudge-oj/userservice/internal/mq"
	"github.com/jjudge-oj/userservice/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, username, email string) (types.User, error)
	GetByID(ctx context.Context, id int64) (types.User, error)
	List(ctx context.Context) ([]types.User, error)
	Update(ctx context.Context, id int64, username, email string) (types.User, error)
	Delete(ctx context.Context, id int64) error
}

// EventPublisher delivers user lifecycle events. *mq.MQ satisfies it.
type EventPublisher interface {
	PublishUserEvent(ctx context.Context, channel string, evt types.UserEvent) (string, error)
}

// PublishObserver is told the outcome of every publish attempt.
type PublishObserver func(eventType types.EventType, err error)

// UserService encapsulates user use-cases.
type UserService struct {
	repo     UserRepository
	events   EventPublisher
	channel  string
	observer PublishObserver
}

type Option func(*UserService)

// WithEvents publishes an event to channel after every successful mutation.
func WithEvents(publisher EventPublisher, channel string) Option {
	return func(s *UserService) {
		s.events = publisher
		s.channel = channel
	}
}

func WithPublishObserver(fn PublishObserver) Option {
	return func(s *UserService) {
		s.observer = fn
	}
}

func NewUserService(repo UserRepository, opts ...Option) *UserService {
	s := &UserService{repo: repo}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *UserService) Create(ctx context.Context, username, email string) (types.User, error) {
	user, err := s.repo.Create(ctx, username, email)
	if err != nil {
		return types.User{}, err
	}
	s.publish(ctx, types.EventUserCreated, user.ID, &user)
	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, id int64) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) List(ctx context.Context) ([]types.User, error) {
	return s.repo.List(ctx)
}

func (s *UserService) Update(ctx context.Context, id int64, username, email string) (types.User, error) {
	user, err := s.repo.Update(ctx, id, username, email)
	if err != nil {
		return types.User{}, err
	}
	s.publish(ctx, types.EventUserUpdated, user.ID, &user)
	return user, nil
}

func (s *UserService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, types.EventUserDeleted, id, nil)
	return nil
}

// publish never fails the caller: the mutation is already committed.
func (s *UserService) publish(ctx context.Context, eventType types.EventType, userID int64, user *types.User) {
	if s.events == nil {
		return
	}

	var snapshot *types.User
	if user != nil {
		copied := *user
		snapshot = &copied
	}
	evt := mq.NewUserEvent(eventType, userID, snapshot)

	_, err := s.events.PublishUserEvent(context.WithoutCancel(ctx), s.channel, evt)
	if s.observer != nil {
		s.observer(eventType, err)
	}
	if err != nil {
		logging.FromContext(ctx).Warn("publish user event failed",
			slog.String("event_id", evt.ID),
			slog.String("type", string(eventType)),
			slog.Int64("user_id", userID),
			slog.Any("error", err),
		)
	}
}
