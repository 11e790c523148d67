// Package view computes the derived task view: the filtered and sorted
// task list, per-category counts, aggregate statistics, and the label
// index. Everything here is a pure function over in-memory snapshots;
// absent optional fields degrade instead of failing.
package view

import (
	"sort"
	"strings"
	"time"

	"taskmaster/domain"
)

// Stats aggregates completion counts over the full task set.
type Stats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
}

// LabelCount is one entry of the derived label index.
type LabelCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// CategoryCount pairs a sidebar category with its task count.
type CategoryCount struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// View is the derived state handed to the presentation layer.
type View struct {
	VisibleTasks   []domain.Task  `json:"visibleTasks"`
	CategoryCounts map[string]int `json:"categoryCounts"`
	Stats          Stats          `json:"stats"`
}

// Today returns the UTC calendar date used for the today/upcoming filters.
func Today(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// Compute runs the fixed filter pipeline over a task snapshot: category
// filter, then search, then priority, then a stable sort. Category counts
// and stats are always computed over the full unfiltered snapshot.
func Compute(tasks []domain.Task, categories []domain.Category, sel domain.Selection, today string) View {
	sel = sel.Normalize()

	visible := filterByCategory(tasks, sel.Category, today)
	visible = filterBySearch(visible, sel.Search)
	visible = filterByPriority(visible, sel.Priority)
	visible = sortTasks(visible, sel.SortBy)

	return View{
		VisibleTasks:   visible,
		CategoryCounts: countByCategory(tasks, categories, today),
		Stats:          Statistics(tasks),
	}
}

// Statistics counts totals over the full task set.
func Statistics(tasks []domain.Task) Stats {
	s := Stats{Total: len(tasks)}
	for _, t := range tasks {
		if t.Completed {
			s.Completed++
		}
	}
	s.Pending = s.Total - s.Completed
	return s
}

func isDueToday(dueDate, today string) bool {
	return dueDate != "" && dueDate == today
}

func isDueAfter(dueDate, today string) bool {
	return dueDate != "" && dueDate > today
}

func filterByCategory(tasks []domain.Task, category, today string) []domain.Task {
	var keep func(domain.Task) bool
	switch category {
	case domain.CategoryAll:
		keep = func(domain.Task) bool { return true }
	case domain.CategoryToday:
		keep = func(t domain.Task) bool { return isDueToday(t.DueDate, today) && !t.Completed }
	case domain.CategoryUpcoming:
		keep = func(t domain.Task) bool { return isDueAfter(t.DueDate, today) && !t.Completed }
	case domain.CategoryCompleted:
		keep = func(t domain.Task) bool { return t.Completed }
	default:
		keep = func(t domain.Task) bool { return t.Category == category }
	}
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func filterBySearch(tasks []domain.Task, query string) []domain.Task {
	if query == "" {
		return tasks
	}
	q := strings.ToLower(query)
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if matchesSearch(t, q) {
			out = append(out, t)
		}
	}
	return out
}

func matchesSearch(t domain.Task, lowerQuery string) bool {
	if strings.Contains(strings.ToLower(t.Title), lowerQuery) {
		return true
	}
	if t.Description != "" && strings.Contains(strings.ToLower(t.Description), lowerQuery) {
		return true
	}
	for _, l := range t.Labels {
		if strings.Contains(strings.ToLower(l), lowerQuery) {
			return true
		}
	}
	return false
}

func filterByPriority(tasks []domain.Task, priority string) []domain.Task {
	if priority == domain.PriorityFilterAll {
		return tasks
	}
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Priority == priority {
			out = append(out, t)
		}
	}
	return out
}

func sortTasks(tasks []domain.Task, sortBy string) []domain.Task {
	out := make([]domain.Task, len(tasks))
	copy(out, tasks)
	switch sortBy {
	case domain.SortDueDate:
		// Ascending, empty due dates last regardless of direction.
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].DueDate == "" {
				return false
			}
			if out[j].DueDate == "" {
				return true
			}
			return out[i].DueDate < out[j].DueDate
		})
	case domain.SortPriority:
		sort.SliceStable(out, func(i, j int) bool {
			return domain.PriorityRank(out[i].Priority) > domain.PriorityRank(out[j].Priority)
		})
	default:
		// Most recent first; a missing timestamp sorts as zero.
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CreatedAt > out[j].CreatedAt
		})
	}
	return out
}

// countByCategory computes counts for every built-in and custom category
// over the full snapshot, independent of the current selection.
func countByCategory(tasks []domain.Task, categories []domain.Category, today string) map[string]int {
	counts := make(map[string]int, len(categories)+4)
	counts[domain.CategoryAll] = len(tasks)
	counts[domain.CategoryToday] = 0
	counts[domain.CategoryUpcoming] = 0
	counts[domain.CategoryCompleted] = 0
	for _, t := range tasks {
		if isDueToday(t.DueDate, today) && !t.Completed {
			counts[domain.CategoryToday]++
		}
		if isDueAfter(t.DueDate, today) && !t.Completed {
			counts[domain.CategoryUpcoming]++
		}
		if t.Completed {
			counts[domain.CategoryCompleted]++
		}
	}
	for _, c := range categories {
		n := 0
		for _, t := range tasks {
			if t.Category == c.Name {
				n++
			}
		}
		counts[c.ID] = n
	}
	return counts
}

// Labels derives the label index: the union of every task's label set with
// per-label task counts, most used first. Ties order lexically so the
// result is deterministic.
func Labels(tasks []domain.Task) []LabelCount {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, t := range tasks {
		for _, l := range t.Labels {
			if _, ok := counts[l]; !ok {
				order = append(order, l)
			}
			counts[l]++
		}
	}
	out := make([]LabelCount, 0, len(order))
	for _, name := range order {
		out = append(out, LabelCount{Name: name, Count: counts[name]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// SortCategories orders custom categories most recently created first, the
// order the category management view lists them in.
func SortCategories(categories []domain.Category) []domain.Category {
	out := make([]domain.Category, len(categories))
	copy(out, categories)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out
}
