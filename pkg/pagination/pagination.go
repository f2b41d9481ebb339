package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= and ?offset=. ok is false when the request asked
// for neither, in which case callers return the full list.
func FromContext(c echo.Context) (p Params, ok bool) {
	rawLimit, rawOffset := c.QueryParam("limit"), c.QueryParam("offset")
	if rawLimit == "" && rawOffset == "" {
		return Params{}, false
	}

	limit, _ := strconv.Atoi(rawLimit)
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(rawOffset)
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}, true
}

// Window returns the [lo, hi) bounds of the page within a list of total items.
func (p Params) Window(total int) (lo, hi int) {
	lo = p.Offset
	if lo > total {
		lo = total
	}
	hi = lo + p.Limit
	if hi > total {
		hi = total
	}
	return lo, hi
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// Page slices items down to the requested page.
func Page[T any](items []T, p Params) []T {
	lo, hi := p.Window(len(items))
	return items[lo:hi]
}

// Meta is merged into list responses when a page was requested.
func (p Params) Meta(total int) map[string]interface{} {
	return map[string]interface{}{
		"total":   total,
		"limit":   p.Limit,
		"offset":  p.Offset,
		"hasMore": p.HasNext(total),
	}
}
