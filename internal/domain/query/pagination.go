package query

import "math"

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Pagination is an offset window over an ordered result set.
type Pagination struct {
	Limit  int
	Offset int
}

// NewPagination clamps page/limit into a valid window. Page is 1-based.
func NewPagination(page, limit int) Pagination {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if page < 1 {
		page = 1
	}
	if maxPage := math.MaxInt / limit; page > maxPage {
		page = maxPage
	}
	return Pagination{Limit: limit, Offset: (page - 1) * limit}
}

// Page returns the 1-based page number of the window.
func (p Pagination) Page() int {
	if p.Limit <= 0 {
		return 1
	}
	return p.Offset/p.Limit + 1
}

// TotalPages computes the page count for total rows.
func (p Pagination) TotalPages(total int64) int {
	if p.Limit <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(p.Limit) - 1) / int64(p.Limit))
}
