package activities

import (
	"strings"
	"time"

	"ackg/models"
)

// DefaultPageSize is used when a non-positive size is requested.
const DefaultPageSize = 9

// Filter narrows a list of activities. Empty fields match everything and
// both conditions must hold.
type Filter struct {
	Query string
	Date  string
}

func (f Filter) Empty() bool {
	return strings.TrimSpace(f.Query) == "" && strings.TrimSpace(f.Date) == ""
}

// Matches reports whether a satisfies the filter. The query is matched
// case-insensitively against title, location and content.
func (f Filter) Matches(a models.Activity) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(a.Title), q) &&
			!strings.Contains(strings.ToLower(a.Location), q) &&
			!strings.Contains(strings.ToLower(a.Content), q) {
			return false
		}
	}
	if d := NormalizeDate(f.Date); d != "" {
		if !strings.Contains(NormalizeDate(a.Date), d) {
			return false
		}
	}
	return true
}

// Apply returns the matching activities in their original order.
func (f Filter) Apply(list []models.Activity) []models.Activity {
	if f.Empty() {
		return list
	}
	out := make([]models.Activity, 0, len(list))
	for _, a := range list {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	return out
}

// NormalizeDate reduces ISO timestamps to their YYYY-MM-DD day and lowercases
// free-text dates.
func NormalizeDate(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) >= 10 {
		if _, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return s[:10]
		}
	}
	return s
}

// Page is one page of a paginated list. Number is 1-based.
type Page struct {
	Items  []models.Activity
	Number int
	Size   int
	Total  int
	Pages  int
}

func (p Page) HasPrev() bool { return p.Number > 1 }
func (p Page) HasNext() bool { return p.Number < p.Pages }
func (p Page) Prev() int     { return p.Number - 1 }
func (p Page) Next() int     { return p.Number + 1 }

// Numbers lists every page number, for the pager.
func (p Page) Numbers() []int {
	n := make([]int, p.Pages)
	for i := range n {
		n[i] = i + 1
	}
	return n
}

// Paginate cuts list into pages of size and returns page number. Out of range
// page numbers are clamped to the nearest valid page.
func Paginate(list []models.Activity, number, size int) Page {
	if size <= 0 {
		size = DefaultPageSize
	}
	total := len(list)
	pages := (total + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	number = min(max(number, 1), pages)

	start := (number - 1) * size
	end := min(start+size, total)
	return Page{
		Items:  list[start:end],
		Number: number,
		Size:   size,
		Total:  total,
		Pages:  pages,
	}
}
