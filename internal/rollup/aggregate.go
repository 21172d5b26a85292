package rollup

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mesh-intelligence/tokenplan/pkg/types"
)

// categoryAcc accumulates one (stage, category) pair.
type categoryAcc struct {
	stage         string
	category      string
	tokens        float64
	actual        float64
	datasets      int
	subcategories int
}

// Aggregate builds the plan report from stages in traversal order, each with
// its details in insertion order. Sums stay unrounded until the report is
// shaped.
func Aggregate(stages []types.StageDetails) types.Report {
	report := types.Report{
		StageStats:           []types.StageStat{},
		CategoryStats:        []types.CategoryStat{},
		SubcategoryStats:     []types.SubcategoryStat{},
		CategoryDistribution: []types.PieSlice{},
		TokenTrends:          []types.TrendPoint{},
	}

	var totalTokens, totalActual float64
	var cumTokens, cumActual float64
	var categories []*categoryAcc
	byKey := map[[2]string]*categoryAcc{}

	for _, st := range stages {
		upper := strings.ToUpper(st.Stage)
		var stageTokens, stageActual float64
		var stageDatasets int

		for _, d := range st.Details {
			tokens := ParseOrZero(d.TokenCountTotal)
			actual := ParseOrZero(d.ActualTokenTotal)
			datasets := len(d.Rows)

			stageTokens += tokens
			stageActual += actual
			stageDatasets += datasets

			key := [2]string{st.Stage, d.Category}
			acc, ok := byKey[key]
			if !ok {
				acc = &categoryAcc{stage: upper, category: d.Category}
				byKey[key] = acc
				categories = append(categories, acc)
			}
			acc.tokens += tokens
			acc.actual += actual
			acc.datasets += datasets
			acc.subcategories++

			report.SubcategoryStats = append(report.SubcategoryStats, types.SubcategoryStat{
				Name:         fmt.Sprintf("%s/%s (%s)", d.Category, d.Subcategory, upper),
				Stage:        st.Stage,
				Category:     d.Category,
				Subcategory:  d.Subcategory,
				TokenCount:   Round2(tokens),
				ActualToken:  Round2(actual),
				DatasetCount: datasets,
			})
		}

		report.StageStats = append(report.StageStats, types.StageStat{
			Stage:        upper,
			TokenCount:   Round2(stageTokens),
			ActualToken:  Round2(stageActual),
			DatasetCount: stageDatasets,
		})

		totalTokens += stageTokens
		totalActual += stageActual
		cumTokens += nonNegative(stageTokens)
		cumActual += nonNegative(stageActual)
		report.TokenTrends = append(report.TokenTrends, types.TrendPoint{
			Stage:                 upper,
			CumulativeTokenCount:  Round2(cumTokens),
			CumulativeActualToken: Round2(cumActual),
		})
	}

	for _, acc := range categories {
		report.CategoryDistribution = append(report.CategoryDistribution, types.PieSlice{
			Name:  fmt.Sprintf("%s (%s)", acc.category, acc.stage),
			Value: Round2(acc.tokens),
			Share: Round2(percent(acc.tokens, totalTokens)),
		})
		report.CategoryStats = append(report.CategoryStats, types.CategoryStat{
			Category:         acc.category,
			Stage:            acc.stage,
			SubcategoryCount: acc.subcategories,
			DatasetCount:     acc.datasets,
			TokenCount:       Round2(acc.tokens),
			ActualToken:      Round2(acc.actual),
			UsageRate:        UsageRate(acc.actual, acc.tokens),
		})
	}

	sort.SliceStable(report.SubcategoryStats, func(i, j int) bool {
		return report.SubcategoryStats[i].TokenCount > report.SubcategoryStats[j].TokenCount
	})

	report.Overview = types.Overview{
		TotalStages:      len(stages),
		TotalCategories:  len(categories),
		TotalTokenCount:  Round2(totalTokens),
		TotalActualToken: Round2(totalActual),
	}
	return report
}

// UsageRate is actual/tokens as a rounded percentage, or 0 when tokens is
// not positive.
func UsageRate(actual, tokens float64) float64 {
	if tokens <= 0 {
		return 0
	}
	return Round2(actual / tokens * 100)
}

func percent(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part / whole * 100
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
