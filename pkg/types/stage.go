package types

// Stage is an ordered phase within a plan. Stages are unique by name within
// their plan and are listed by Order, then by creation sequence.
type Stage struct {
	StageID     int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Order       int            `json:"order"`
	Categories  []CategoryNode `json:"categories"`
	Merges      []Merge        `json:"merges"`
}

// StageSummary is the listing view of a stage.
type StageSummary struct {
	StageID  int64  `json:"id"`
	Name     string `json:"name"`
	Order    int    `json:"order"`
	RowCount int    `json:"row_count"`
}

// Merge is a merged-cell rectangle in a stage's table view. Bounds are
// inclusive, zero-based row and column indexes.
type Merge struct {
	StartRow int `json:"startRow" validate:"gte=0"`
	EndRow   int `json:"endRow" validate:"gtefield=StartRow"`
	StartCol int `json:"startCol" validate:"gte=0"`
	EndCol   int `json:"endCol" validate:"gtefield=StartCol"`
}

// Row is one line of a stage's composition table. Key is the storage id and
// is ignored on writes; position in the list defines display order.
type Row struct {
	Key             int64  `json:"key"`
	Category        string `json:"category"`
	Subcategory     string `json:"subcategory"`
	TotalTokens     string `json:"total_tokens"`
	SampleRatio     string `json:"sample_ratio"`
	CumulativeRatio string `json:"cumulative_ratio"`
	SampleTokens    string `json:"sample_tokens"`
	CategoryRatio   string `json:"category_ratio"`
	Part1           string `json:"part1"`
	Part2           string `json:"part2"`
	Part3           string `json:"part3"`
	Part4           string `json:"part4"`
	Part5           string `json:"part5"`
	Note            string `json:"note"`
}

// CategoryNode is a category in a stage's category tree.
type CategoryNode struct {
	ID            int64             `json:"id"`
	Name          string            `json:"name" validate:"required"`
	Subcategories []SubcategoryNode `json:"subcategories" validate:"dive"`
}

// SubcategoryNode is a leaf of a stage's category tree.
type SubcategoryNode struct {
	ID   int64  `json:"id"`
	Name string `json:"name" validate:"required"`
}

// CategoryStats is a category node merged with the live totals of its
// subcategories' details.
type CategoryStats struct {
	ID            int64              `json:"id"`
	Name          string             `json:"name"`
	Subcategories []SubcategoryStats `json:"subcategories"`
	Totals
}

// SubcategoryStats is a subcategory node merged with its detail totals.
type SubcategoryStats struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Totals
}

// CategoryView is the read model of a stage's category tree.
type CategoryView struct {
	Description string          `json:"description"`
	Categories  []CategoryStats `json:"categories"`
}
