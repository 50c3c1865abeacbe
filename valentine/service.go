/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package valentine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// View is what a viewer gets back: the current record and who they are to it.
type View struct {
	Record Record
	Role   Role
}

// Service sequences create, open, answer and watch. It holds no record
// state of its own; the Store is authoritative and the Broker carries
// changes to viewers.
type Service struct {
	store     Store
	broker    *Broker
	publisher Publisher
	log       zerolog.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*Service)

// WithPublisher routes committed changes through p instead of straight into
// the local broker, e.g. a Redis relay that feeds every instance's broker.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.log = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		s.newID = newID
	}
}

func NewService(store Store, broker *Broker, opts ...Option) *Service {
	s := &Service{
		store:     store,
		broker:    broker,
		publisher: broker,
		log:       zerolog.Nop(),
		now:       time.Now,
		newID:     uuid.NewString,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Create validates the draft and stores a new record in the sent state,
// owned by senderVisitorID.
func (s *Service) Create(ctx context.Context, senderVisitorID string, d Draft) (Record, error) {
	rec, err := d.Record(s.newID(), senderVisitorID, s.now().UTC())
	if err != nil {
		return Record{}, err
	}

	if err := s.store.Create(ctx, rec); err != nil {
		return Record{}, err
	}

	s.log.Info().
		Str("id", rec.ID).
		Str("visitor", senderVisitorID).
		Str("character", string(rec.CharacterType)).
		Msg("valentine created")

	if total, err := s.store.Count(ctx); err != nil {
		s.log.Warn().Err(err).Msg("unable to refresh valentine count")
	} else {
		s.publisher.PublishCount(total)
	}

	return rec, nil
}

// Open loads a record for visitorID and works out their role. The first
// visitor who is not the sender claims the receiver seat; that claim is the
// only side effect of opening.
//
// A visitor who loses a simultaneous claim to someone else is shown the
// record as a stranger.
func (s *Service) Open(ctx context.Context, id, visitorID string) (View, error) {
	if visitorID == "" {
		return View{}, &ValidationError{Field: "visitor", Reason: "required"}
	}

	rec, err := s.store.Fetch(ctx, id)
	if err != nil {
		return View{}, err
	}

	role := ResolveRole(rec, visitorID)
	if role != RoleUnclaimed {
		return View{Record: rec, Role: role}, nil
	}

	claimed, changed, err := s.store.ClaimReceiver(ctx, id, visitorID, s.now().UTC())
	switch {
	case errors.Is(err, ErrClaimConflict):
		s.log.Warn().Str("id", id).Str("visitor", visitorID).Msg("lost receiver claim")

		rec, err = s.store.Fetch(ctx, id)
		if err != nil {
			return View{}, err
		}
		return View{Record: rec, Role: ResolveRole(rec, visitorID)}, nil
	case err != nil:
		return View{}, err
	}

	if changed {
		s.log.Info().Str("id", id).Str("visitor", visitorID).Msg("valentine opened")
		s.publisher.Publish(claimed)
	}

	return View{Record: claimed, Role: RoleReceiver}, nil
}

// SubmitChoice records the receiver's answer and completes the record.
// Repeating the same answer is a no-op; a different answer afterwards is
// ErrAlreadyDecided. A receiver who answers without opening first claims
// and completes in one write.
func (s *Service) SubmitChoice(ctx context.Context, id, visitorID string, choice Choice) (View, error) {
	if visitorID == "" {
		return View{}, &ValidationError{Field: "visitor", Reason: "required"}
	}
	if _, err := ParseChoice(string(choice)); err != nil {
		return View{}, err
	}

	rec, err := s.store.Fetch(ctx, id)
	if err != nil {
		return View{}, err
	}

	switch ResolveRole(rec, visitorID) {
	case RoleSender, RoleStranger:
		return View{}, ErrNotReceiver
	}

	updated, changed, err := s.store.SubmitChoice(ctx, id, visitorID, choice, s.now().UTC())
	if err != nil {
		return View{}, err
	}

	if changed {
		s.log.Info().
			Str("id", id).
			Str("visitor", visitorID).
			Str("choice", string(choice)).
			Msg("valentine answered")
		s.publisher.Publish(updated)
	}

	return View{Record: updated, Role: RoleReceiver}, nil
}

func (s *Service) Fetch(ctx context.Context, id string) (Record, error) {
	return s.store.Fetch(ctx, id)
}

// Watch subscribes to every future snapshot of id. Callers must Cancel the
// subscription when they stop reading.
func (s *Service) Watch(id string) *Subscription {
	return s.broker.Subscribe(id)
}

func (s *Service) WatchCount() *CountSubscription {
	return s.broker.SubscribeCount()
}

func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.Count(ctx)
}

func (s *Service) List(ctx context.Context, limit int) ([]Record, error) {
	return s.store.List(ctx, limit)
}
