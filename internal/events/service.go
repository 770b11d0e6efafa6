package events

import (
	"context"
	"strings"

	"mangashelf/internal/apperr"
	"mangashelf/pkg/models"
)

const (
	TypeDetails = "details"
	TypeClicked = "clicked"
	TypeSearch  = "search"
)

// Resolver maps a title reference onto a catalog id.
type Resolver interface {
	ResolveRef(ctx context.Context, raw string) (string, error)
}

type SignalRefresher interface {
	RecomputeSignals(ctx context.Context, userID string) error
}

type Service struct {
	Repo     *Repo
	Resolver Resolver
	Signals  SignalRefresher
}

func NewService(repo *Repo, resolver Resolver, signals SignalRefresher) *Service {
	return &Service{Repo: repo, Resolver: resolver, Signals: signals}
}

// Record stores one interaction. Title-bearing events feed the signal
// affinities, so those trigger a recompute.
func (s *Service) Record(ctx context.Context, userID, eventType, mangaRef, value string) (*models.Event, error) {
	eventType = strings.ToLower(strings.TrimSpace(eventType))
	if eventType == "" {
		return nil, apperr.Validation("event_type", "required")
	}
	mangaID := strings.TrimSpace(mangaRef)
	if mangaID != "" && s.Resolver != nil {
		id, err := s.Resolver.ResolveRef(ctx, mangaID)
		if err != nil {
			return nil, err
		}
		mangaID = id
	}

	e := models.Event{UserID: userID, MangaID: mangaID, Type: eventType, Value: value}
	id, err := s.Repo.Insert(ctx, e)
	if err != nil {
		return nil, err
	}
	e.ID = id

	if s.Signals != nil && mangaID != "" && (eventType == TypeDetails || eventType == TypeClicked) {
		if err := s.Signals.RecomputeSignals(ctx, userID); err != nil {
			return &e, err
		}
	}
	return &e, nil
}

func (s *Service) Recent(ctx context.Context, userID string, limit int) ([]models.Event, error) {
	return s.Repo.ListByUser(ctx, userID, limit)
}
