package repository

import "testing"

func TestPageRequestNormalized(t *testing.T) {
	cases := []struct {
		name       string
		in         PageRequest
		want       PageRequest
		wantOffset int
	}{
		{name: "zero uses defaults", in: PageRequest{}, want: PageRequest{Page: 1, PageSize: DefaultPageSize}, wantOffset: 0},
		{name: "negative page", in: PageRequest{Page: -3, PageSize: 10}, want: PageRequest{Page: 1, PageSize: 10}, wantOffset: 0},
		{name: "oversized page", in: PageRequest{Page: 3, PageSize: 500}, want: PageRequest{Page: 3, PageSize: MaxPageSize}, wantOffset: 200},
		{name: "page past cap", in: PageRequest{Page: MaxPage + 1, PageSize: 1}, want: PageRequest{Page: MaxPage, PageSize: 1}, wantOffset: MaxPage - 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.in.Normalized(); got != tc.want {
				t.Fatalf("Normalized()=%+v want %+v", got, tc.want)
			}
			if got := tc.in.Offset(); got != tc.wantOffset {
				t.Fatalf("Offset()=%d want %d", got, tc.wantOffset)
			}
		})
	}
}

func TestNewPageResult(t *testing.T) {
	res := newPageResult[string](nil, PageRequest{Page: 2, PageSize: 20}, 41)
	if res.Items == nil || len(res.Items) != 0 {
		t.Fatalf("expected empty non-nil items, got %#v", res.Items)
	}
	if res.TotalPages != 3 || !res.HasNext {
		t.Fatalf("expected 3 pages with a next page, got %+v", res)
	}
	last := newPageResult([]string{"a"}, PageRequest{Page: 3, PageSize: 20}, 41)
	if last.HasNext {
		t.Fatalf("last page must not report a next page: %+v", last)
	}
	if empty := newPageResult[string](nil, PageRequest{}, 0); empty.TotalPages != 0 || empty.HasNext {
		t.Fatalf("unexpected empty result: %+v", empty)
	}
}

func FuzzPageRequestOffsetStaysInRange(f *testing.F) {
	f.Add(0, 0)
	f.Add(-1, 1000)
	f.Add(1<<40, MaxPageSize)
	f.Fuzz(func(t *testing.T, page, size int) {
		req := PageRequest{Page: page, PageSize: size}
		n := req.Normalized()
		if n.Page < 1 || n.Page > MaxPage || n.PageSize < 1 || n.PageSize > MaxPageSize {
			t.Fatalf("normalized out of range: %+v", n)
		}
		if off := req.Offset(); off < 0 || off > (MaxPage-1)*MaxPageSize {
			t.Fatalf("offset out of range: %d for %+v", off, req)
		}
	})
}

func FuzzTotalPagesCoversTotal(f *testing.F) {
	f.Add(int64(0), 10)
	f.Add(int64(21), 20)
	f.Add(int64(1<<40), 1)
	f.Fuzz(func(t *testing.T, total int64, size int) {
		if size > MaxPageSize {
			size = MaxPageSize
		}
		if total > 1<<40 {
			total = 1 << 40
		}
		got := totalPages(total, size)
		if total <= 0 || size <= 0 {
			if got != 0 {
				t.Fatalf("expected 0 pages, got %d", got)
			}
			return
		}
		if int64(got-1)*int64(size) >= total || int64(got)*int64(size) < total {
			t.Fatalf("pages=%d does not cover total=%d at size=%d", got, total, size)
		}
	})
}
