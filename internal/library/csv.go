package library

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"mangashelf/internal/apperr"
)

// ImportRatingsCSV reads "manga_id,rating" rows (header optional) into the
// user's ratings. The first bad row aborts with its line number.
func (s *Service) ImportRatingsCSV(ctx context.Context, userID string, r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	count := 0
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, apperr.Validation("csv", fmt.Sprintf("line %d: %v", line, err))
		}
		if len(rec) == 0 || strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "manga_id") {
			continue
		}

		var rating *float64
		if len(rec) > 1 {
			if rating, err = parseRatingText(rec[1]); err != nil {
				return count, apperr.Validation("csv", fmt.Sprintf("line %d: rating must be a number", line))
			}
		}
		if _, err := s.AddRating(ctx, userID, rec[0], rating, false, false); err != nil {
			var ve *apperr.ValidationError
			if errors.As(err, &ve) {
				return count, apperr.Validation("csv", fmt.Sprintf("line %d: %s", line, ve.Error()))
			}
			return count, err
		}
		count++
	}
	return count, nil
}

// ExportRatingsCSV writes the user's ratings, newest first, as "manga_id,rating".
func (s *Service) ExportRatingsCSV(ctx context.Context, userID string, w io.Writer) error {
	items, err := s.Repo.ListRatings(ctx, userID, "chron")
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"manga_id", "rating"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, it := range items {
		rating := ""
		if it.Rating != nil {
			rating = strconv.FormatFloat(*it.Rating, 'f', -1, 64)
		}
		if err := cw.Write([]string{it.MangaID, rating}); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
