package backend

import "context"

// PageFunc reads up to limit items starting at offset.
type PageFunc func(ctx context.Context, offset int64, limit int) ([]Item, error)

// PagedStream turns a PageFunc into a Stream. A page is only requested once
// the previous one has been consumed, and a short page ends the stream.
type PagedStream struct {
	fetch  PageFunc
	offset int64
	limit  int
	buf    []Item
	done   bool
}

func NewPagedStream(fetch PageFunc, offset int64, pageSize int) *PagedStream {
	if pageSize <= 0 {
		pageSize = 1
	}
	return &PagedStream{fetch: fetch, offset: offset, limit: pageSize}
}

func (s *PagedStream) Next(ctx context.Context) (Item, error) {
	if len(s.buf) == 0 {
		if s.done {
			return Item{}, EOF
		}
		page, err := s.fetch(ctx, s.offset, s.limit)
		if err != nil {
			return Item{}, err
		}
		s.offset += int64(len(page))
		if len(page) < s.limit {
			s.done = true
		}
		if len(page) == 0 {
			return Item{}, EOF
		}
		s.buf = page
	}
	item := s.buf[0]
	s.buf[0] = Item{}
	s.buf = s.buf[1:]
	return item, nil
}

func (s *PagedStream) Close() error {
	s.buf = nil
	s.done = true
	return nil
}
