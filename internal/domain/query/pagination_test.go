package query

import (
	"math"
	"testing"
)

func TestNewPaginationClamps(t *testing.T) {
	tests := []struct {
		page, limit        int
		wantLimit, wantOff int
	}{
		{page: 0, limit: 0, wantLimit: DefaultLimit, wantOff: 0},
		{page: 3, limit: 10, wantLimit: 10, wantOff: 20},
		{page: 2, limit: 500, wantLimit: MaxLimit, wantOff: MaxLimit},
		{page: -4, limit: 5, wantLimit: 5, wantOff: 0},
	}
	for _, tt := range tests {
		p := NewPagination(tt.page, tt.limit)
		if p.Limit != tt.wantLimit || p.Offset != tt.wantOff {
			t.Fatalf("NewPagination(%d, %d) = %+v", tt.page, tt.limit, p)
		}
	}
}

func TestTotalPages(t *testing.T) {
	p := NewPagination(1, 20)
	if got := p.TotalPages(41); got != 3 {
		t.Fatalf("expected 3 pages, got %d", got)
	}
	if got := p.TotalPages(0); got != 0 {
		t.Fatalf("expected 0 pages, got %d", got)
	}
	if got := NewPagination(3, 20).Page(); got != 3 {
		t.Fatalf("expected page 3, got %d", got)
	}
}

func TestNewPaginationHugePageDoesNotOverflow(t *testing.T) {
	p := NewPagination(math.MaxInt/10, 20)
	if p.Offset < 0 {
		t.Fatalf("offset overflowed: %+v", p)
	}
	if p.Page() < 1 {
		t.Fatalf("page went negative: %d", p.Page())
	}
	if p.Offset > math.MaxInt-p.Limit {
		t.Fatalf("offset leaves no room for the window: %+v", p)
	}
}
