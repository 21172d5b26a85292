package sqlite

import (
	"time"

	"github.com/mesh-intelligence/tokenplan/internal/rollup"
	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

// Aggregate builds the plan report from every stage in order and each
// stage's details in insertion order.
func (p *PlanDB) Aggregate() (types.Report, error) {
	start := time.Now()
	var input []types.StageDetails
	err := p.read(func(q querier) error {
		stages, err := listStages(q)
		if err != nil {
			return err
		}
		input = make([]types.StageDetails, 0, len(stages))
		for _, s := range stages {
			details, err := listDetails(q, s.StageID)
			if err != nil {
				return err
			}
			input = append(input, types.StageDetails{Stage: s.Name, Details: details})
		}
		return nil
	})
	if err != nil {
		return types.Report{}, err
	}
	report := rollup.Aggregate(input)
	aggregateDuration.Observe(time.Since(start).Seconds())
	return report, nil
}

// CategoryView returns a stage's category tree merged with the live totals
// of its details.
func (p *PlanDB) CategoryView(stageName string) (types.CategoryView, error) {
	description, tree, err := p.CategoryTree(stageName)
	if err != nil {
		return types.CategoryView{}, err
	}
	stage, err := p.GetOrCreateStage(stageName)
	if err != nil {
		return types.CategoryView{}, err
	}
	totals, err := p.DetailTotals(stage.StageID)
	if err != nil {
		return types.CategoryView{}, err
	}
	return types.CategoryView{
		Description: description,
		Categories:  rollup.MergeTree(tree, totals),
	}, nil
}
