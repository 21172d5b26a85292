package types

// Report is the plan-wide visualization rollup. Numbers are rounded to two
// decimals; sums are computed unrounded.
type Report struct {
	Overview             Overview          `json:"overview"`
	StageStats           []StageStat       `json:"stageStats"`
	CategoryStats        []CategoryStat    `json:"categoryStats"`
	SubcategoryStats     []SubcategoryStat `json:"subcategoryStats"`
	CategoryDistribution []PieSlice        `json:"categoryDistribution"`
	TokenTrends          []TrendPoint      `json:"tokenTrends"`
}

// Overview holds the plan totals. TotalCategories counts distinct
// (stage, category) pairs.
type Overview struct {
	TotalStages      int     `json:"totalStages"`
	TotalCategories  int     `json:"totalCategories"`
	TotalTokenCount  float64 `json:"totalTokenCount"`
	TotalActualToken float64 `json:"totalActualToken"`
}

// StageStat sums one stage's details. Stage is upper-cased.
type StageStat struct {
	Stage        string  `json:"stage"`
	TokenCount   float64 `json:"tokenCount"`
	ActualToken  float64 `json:"actualToken"`
	DatasetCount int     `json:"datasetCount"`
}

// CategoryStat sums the details of one category within a stage.
type CategoryStat struct {
	Category         string  `json:"category"`
	Stage            string  `json:"stage"`
	SubcategoryCount int     `json:"subcategoryCount"`
	DatasetCount     int     `json:"datasetCount"`
	TokenCount       float64 `json:"tokenCount"`
	ActualToken      float64 `json:"actualToken"`
	UsageRate        float64 `json:"usageRate"`
}

// SubcategoryStat is one detail's totals. Name reads "cat/sub (STAGE)".
type SubcategoryStat struct {
	Name         string  `json:"name"`
	Stage        string  `json:"stage"`
	Category     string  `json:"category"`
	Subcategory  string  `json:"subcategory"`
	TokenCount   float64 `json:"tokenCount"`
	ActualToken  float64 `json:"actualToken"`
	DatasetCount int     `json:"datasetCount"`
}

// PieSlice is one category's share of the plan token count. Share is a
// percentage of the plan total.
type PieSlice struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Share float64 `json:"share"`
}

// TrendPoint is the running total after a stage in traversal order.
type TrendPoint struct {
	Stage                 string  `json:"stage"`
	CumulativeTokenCount  float64 `json:"cumulativeTokenCount"`
	CumulativeActualToken float64 `json:"cumulativeActualToken"`
}

// StageDetails is the aggregation input for one stage: its name and its
// details in insertion order.
type StageDetails struct {
	Stage   string
	Details []CategoryDetail
}
