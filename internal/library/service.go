package library

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"mangashelf/internal/apperr"
	"mangashelf/internal/logging"
	"mangashelf/pkg/models"
)

// Resolver maps a user supplied title reference onto a catalog id.
type Resolver interface {
	ResolveRef(ctx context.Context, raw string) (string, error)
}

// Publisher delivers library events to one user's live connections.
type Publisher interface {
	Publish(userID string, v any)
}

// SignalRefresher rebuilds the user's derived tag affinities.
type SignalRefresher interface {
	RecomputeSignals(ctx context.Context, userID string) error
}

const (
	tableRatings     = "user_ratings"
	tableReadingList = "user_reading_list"
	tableDnr         = "user_dnr"
)

// Service owns the three membership sets of a user. It never moves a title
// between sets on its own; callers remove and add explicitly.
type Service struct {
	Repo      *Repo
	Resolver  Resolver
	Publisher Publisher
	Signals   SignalRefresher
	Now       func() time.Time
}

func NewService(repo *Repo, resolver Resolver, pub Publisher) *Service {
	return &Service{
		Repo:      repo,
		Resolver:  resolver,
		Publisher: pub,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// RatingsMap is keyed by display title under Items and by canonical id under ByID.
type RatingsMap struct {
	Items map[string]*float64 `json:"items"`
	ByID  map[string]*float64 `json:"by_id"`
}

// State is the snapshot a client needs to mark titles across pages.
type State struct {
	Ratings     map[string]*float64 `json:"ratings"`
	ReadingList []string            `json:"reading_list"`
	Dnr         []string            `json:"dnr"`
}

// ValidateRating accepts nil or a value in [0, 10] with at most one decimal
// and returns it as integer tenths.
func ValidateRating(r *float64) (*int64, error) {
	if r == nil {
		return nil, nil
	}
	v := *r
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 10 {
		return nil, apperr.Validation("rating", "must be between 0 and 10")
	}
	scaled := v * 10
	rounded := math.Round(scaled)
	if math.Abs(scaled-rounded) > 1e-6 {
		return nil, apperr.Validation("rating", "must have at most one decimal")
	}
	n := int64(rounded)
	return &n, nil
}

func ValidateStatus(status string) (string, error) {
	switch strings.TrimSpace(status) {
	case "":
		return models.StatusPlanToRead, nil
	case models.StatusPlanToRead:
		return models.StatusPlanToRead, nil
	case models.StatusInProgress:
		return models.StatusInProgress, nil
	default:
		return "", apperr.Validation("status", fmt.Sprintf("must be %q or %q", models.StatusPlanToRead, models.StatusInProgress))
	}
}

func (s *Service) resolve(ctx context.Context, titleID string) (string, error) {
	ref := strings.TrimSpace(titleID)
	if ref == "" {
		return "", apperr.Validation("manga_id", "required")
	}
	if s.Resolver == nil {
		return ref, nil
	}
	id, err := s.Resolver.ResolveRef(ctx, ref)
	if err != nil {
		return "", err
	}
	return id, nil
}

// changed runs after every successful mutation: signals are refreshed and
// the event is pushed to the user's connections.
func (s *Service) changed(ctx context.Context, userID, typ, collection, mangaID string, rating *float64, status string) {
	if s.Signals != nil {
		if err := s.Signals.RecomputeSignals(ctx, userID); err != nil {
			logging.Warn().Err(err).Str("user_id", userID).Msg("recompute signals failed")
		}
	}
	if s.Publisher == nil {
		return
	}
	s.Publisher.Publish(userID, models.LibraryEvent{
		Type:       typ,
		UserID:     userID,
		MangaID:    mangaID,
		Collection: collection,
		Rating:     rating,
		Status:     status,
		At:         s.Now(),
	})
}

func (s *Service) AddRating(ctx context.Context, userID, titleID string, rating *float64, recommended, finished bool) (*models.Rating, error) {
	tenths, err := ValidateRating(rating)
	if err != nil {
		return nil, err
	}
	id, err := s.resolve(ctx, titleID)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.UpsertRating(ctx, userID, id, tenths, recommended, finished, s.Now()); err != nil {
		return nil, err
	}
	saved, err := s.Repo.GetRating(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, fmt.Errorf("add rating: row for %s vanished", id)
	}
	s.changed(ctx, userID, "ratings.update", models.CollectionRatings, id, saved.Rating, "")
	return saved, nil
}

func (s *Service) RemoveRating(ctx context.Context, userID, titleID string) error {
	return s.remove(ctx, userID, titleID, models.CollectionRatings, "ratings.delete", s.Repo.DeleteRating)
}

func (s *Service) AddToReadingList(ctx context.Context, userID, titleID, status string) error {
	st, err := ValidateStatus(status)
	if err != nil {
		return err
	}
	id, err := s.resolve(ctx, titleID)
	if err != nil {
		return err
	}
	if err := s.Repo.UpsertReadingList(ctx, userID, id, st, s.Now()); err != nil {
		return err
	}
	s.changed(ctx, userID, "reading_list.update", models.CollectionReadingList, id, nil, st)
	return nil
}

func (s *Service) UpdateReadingStatus(ctx context.Context, userID, titleID, status string) error {
	if strings.TrimSpace(status) == "" {
		return apperr.Validation("status", "required")
	}
	st, err := ValidateStatus(status)
	if err != nil {
		return err
	}
	id, err := s.resolve(ctx, titleID)
	if err != nil {
		return err
	}
	ok, err := s.Repo.UpdateReadingStatus(ctx, userID, id, st)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("reading list entry")
	}
	s.changed(ctx, userID, "reading_list.update", models.CollectionReadingList, id, nil, st)
	return nil
}

func (s *Service) RemoveFromReadingList(ctx context.Context, userID, titleID string) error {
	return s.remove(ctx, userID, titleID, models.CollectionReadingList, "reading_list.delete", s.Repo.DeleteReadingList)
}

func (s *Service) AddToDnr(ctx context.Context, userID, titleID string) error {
	id, err := s.resolve(ctx, titleID)
	if err != nil {
		return err
	}
	if err := s.Repo.UpsertDnr(ctx, userID, id, s.Now()); err != nil {
		return err
	}
	s.changed(ctx, userID, "dnr.update", models.CollectionDnr, id, nil, "")
	return nil
}

func (s *Service) RemoveFromDnr(ctx context.Context, userID, titleID string) error {
	return s.remove(ctx, userID, titleID, models.CollectionDnr, "dnr.delete", s.Repo.DeleteDnr)
}

// remove is idempotent: deleting an absent row succeeds without an event.
func (s *Service) remove(ctx context.Context, userID, titleID, collection, typ string,
	del func(context.Context, string, string) (bool, error)) error {
	id, err := s.resolve(ctx, titleID)
	if err != nil {
		return err
	}
	removed, err := del(ctx, userID, id)
	if err != nil {
		return err
	}
	if !removed && id != strings.TrimSpace(titleID) {
		// the row may have been stored under the raw reference
		if removed, err = del(ctx, userID, strings.TrimSpace(titleID)); err != nil {
			return err
		}
		id = strings.TrimSpace(titleID)
	}
	if removed {
		s.changed(ctx, userID, typ, collection, id, nil, "")
	}
	return nil
}

// GetLocations lists the collections holding the title, in the fixed order
// Ratings, Reading List, DNR.
func (s *Service) GetLocations(ctx context.Context, userID, titleID string) ([]string, error) {
	id, err := s.resolve(ctx, titleID)
	if err != nil {
		return nil, err
	}
	rated, reading, dnr, err := s.Repo.Memberships(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	out := []string{}
	if rated {
		out = append(out, models.CollectionRatings)
	}
	if reading {
		out = append(out, models.CollectionReadingList)
	}
	if dnr {
		out = append(out, models.CollectionDnr)
	}
	return out, nil
}

func normalizeRatingSort(sort string) string {
	switch sort {
	case "alpha", "rating_desc", "rating_asc":
		return sort
	default:
		return "chron"
	}
}

func normalizeListSort(sort string) string {
	if sort == "alpha" {
		return sort
	}
	return "chron"
}

func (s *Service) ListRatings(ctx context.Context, userID, sort, lang string) ([]models.Rating, error) {
	items, err := s.Repo.ListRatings(ctx, userID, normalizeRatingSort(sort))
	if err != nil {
		return nil, err
	}
	for i := range items {
		setDisplay(&items[i].TitleRef, lang, items[i].MangaID)
	}
	return items, nil
}

func (s *Service) ListReadingList(ctx context.Context, userID, sort, lang string) ([]models.ReadingListEntry, error) {
	items, err := s.Repo.ListReadingList(ctx, userID, normalizeListSort(sort))
	if err != nil {
		return nil, err
	}
	for i := range items {
		setDisplay(&items[i].TitleRef, lang, items[i].MangaID)
	}
	return items, nil
}

func (s *Service) ListDnr(ctx context.Context, userID, sort, lang string) ([]models.DnrEntry, error) {
	items, err := s.Repo.ListDnr(ctx, userID, normalizeListSort(sort))
	if err != nil {
		return nil, err
	}
	for i := range items {
		setDisplay(&items[i].TitleRef, lang, items[i].MangaID)
	}
	return items, nil
}

func setDisplay(ref *models.TitleRef, lang, id string) {
	ref.DisplayTitle = models.DisplayName(lang, ref.Title, ref.EnglishName, ref.JapaneseName, id)
}

func (s *Service) RatingsMap(ctx context.Context, userID, lang string) (RatingsMap, error) {
	items, err := s.Repo.ListRatings(ctx, userID, "chron")
	if err != nil {
		return RatingsMap{}, err
	}
	out := RatingsMap{
		Items: make(map[string]*float64, len(items)),
		ByID:  make(map[string]*float64, len(items)),
	}
	for _, it := range items {
		out.ByID[it.MangaID] = it.Rating
		out.Items[models.DisplayName(lang, it.Title, it.EnglishName, it.JapaneseName, it.MangaID)] = it.Rating
	}
	return out, nil
}

// RatingsByID is the id keyed view used to annotate recommendations.
func (s *Service) RatingsByID(ctx context.Context, userID string) (map[string]*float64, error) {
	m, err := s.RatingsMap(ctx, userID, models.LanguageEnglish)
	if err != nil {
		return nil, err
	}
	return m.ByID, nil
}

// State reads the three sets concurrently. A failed reading list or DNR read
// degrades to an empty set; a failed ratings read fails the call.
func (s *Service) State(ctx context.Context, userID string) (State, error) {
	var (
		st      State
		ratings map[string]*float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ratings, err = s.RatingsByID(gctx, userID)
		return err
	})
	g.Go(func() error {
		ids, err := s.Repo.IDs(gctx, tableReadingList, userID)
		if err != nil {
			logging.Warn().Err(err).Str("user_id", userID).Msg("reading list unavailable, using empty set")
			ids = []string{}
		}
		st.ReadingList = ids
		return nil
	})
	g.Go(func() error {
		ids, err := s.Repo.IDs(gctx, tableDnr, userID)
		if err != nil {
			logging.Warn().Err(err).Str("user_id", userID).Msg("dnr list unavailable, using empty set")
			ids = []string{}
		}
		st.Dnr = ids
		return nil
	})
	if err := g.Wait(); err != nil {
		return State{}, err
	}
	st.Ratings = ratings
	return st, nil
}

// ExcludedIDs is the union of all three sets; recommendations never return
// these titles.
func (s *Service) ExcludedIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	for _, table := range []string{tableRatings, tableReadingList, tableDnr} {
		ids, err := s.Repo.IDs(ctx, table, userID)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

// CollectionIDs returns the ids held in one named collection: "ratings",
// "reading" or "dnr".
func (s *Service) CollectionIDs(ctx context.Context, userID, collection string) ([]string, error) {
	switch collection {
	case "ratings":
		return s.Repo.IDs(ctx, tableRatings, userID)
	case "reading", "reading_list":
		return s.Repo.IDs(ctx, tableReadingList, userID)
	case "dnr":
		return s.Repo.IDs(ctx, tableDnr, userID)
	default:
		return nil, apperr.Validation("exclude", "must be dnr, reading or ratings")
	}
}
