// Package types defines the plan, stage, and category-detail entities, the
// aggregation report shapes, configuration, and the standard errors for the
// tokenplan storage system.
//
// A plan (tenant) owns an independent storage unit. Inside it, stages own
// ordered table rows and a category tree, and every (stage, category,
// subcategory) triple owns a CategoryDetail with its detail rows and cached
// totals. The storage layer in internal/sqlite persists these types; the
// rollup package derives reports from them.
package types
