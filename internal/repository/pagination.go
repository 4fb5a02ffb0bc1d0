package repository

const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
	// MaxPage keeps (page-1)*pageSize inside an int32 SQL offset.
	MaxPage = 1 << 24
)

// PageRequest is a 1-based page of a listing. Zero values select the defaults.
type PageRequest struct {
	Page     int
	PageSize int
}

// Normalized clamps the request into [1, MaxPage] x [1, MaxPageSize].
func (p PageRequest) Normalized() PageRequest {
	switch {
	case p.Page < 1:
		p.Page = DefaultPage
	case p.Page > MaxPage:
		p.Page = MaxPage
	}
	switch {
	case p.PageSize < 1:
		p.PageSize = DefaultPageSize
	case p.PageSize > MaxPageSize:
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset is the row offset of a normalized request.
func (p PageRequest) Offset() int {
	n := p.Normalized()
	return (n.Page - 1) * n.PageSize
}

type PageResult[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPageResult[T any](items []T, req PageRequest, total int64) PageResult[T] {
	req = req.Normalized()
	if items == nil {
		items = []T{}
	}
	pages := totalPages(total, req.PageSize)
	return PageResult[T]{
		Items:      items,
		Page:       req.Page,
		PageSize:   req.PageSize,
		Total:      total,
		TotalPages: pages,
		HasNext:    req.Page < pages,
	}
}

func totalPages(total int64, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
