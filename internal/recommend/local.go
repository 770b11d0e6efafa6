package recommend

import (
	"context"
	"fmt"

	"mangashelf/pkg/models"
)

// TitleSource yields the catalog to rank.
type TitleSource interface {
	All(ctx context.Context) ([]models.Title, error)
}

// LocalEngine ranks in process against the catalog table.
type LocalEngine struct {
	Titles TitleSource
}

func NewLocalEngine(titles TitleSource) *LocalEngine {
	return &LocalEngine{Titles: titles}
}

func (e *LocalEngine) Recommend(ctx context.Context, in Input) (Result, error) {
	all, err := e.Titles.All(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load catalog: %w", err)
	}
	return Rank(all, in, newRand(in.Criteria.Seed)), nil
}
