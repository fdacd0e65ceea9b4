package shopping

import (
	"context"
	"sync"

	"family-meal-planner/internal/units"
)

// List is a shopping list with checked state that lives for the session.
// Checked state is keyed by name and unit, so it carries over reloads and
// switches between plans until ClearChecked.
type List struct {
	aggregator *Aggregator

	mu      sync.Mutex
	planID  int64
	items   []Item
	checked map[string]bool
}

func NewList(a *Aggregator) *List {
	return &List{aggregator: a, checked: make(map[string]bool)}
}

// Load rebuilds the list for a weekly plan and re-applies checked state.
func (l *List) Load(ctx context.Context, weeklyPlanID int64) ([]Item, error) {
	items, err := l.aggregator.Build(ctx, weeklyPlanID)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.planID = weeklyPlanID
	for i := range items {
		items[i].Checked = l.checked[items[i].Key()]
	}
	Sort(items)
	l.items = items
	return l.snapshot(), nil
}

// PlanID is the weekly plan the list was last loaded for.
func (l *List) PlanID() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.planID
}

// Toggle flips the checked state of an item and re-sorts the list. It
// reports false when no item matches.
func (l *List) Toggle(name string, unit units.MeasurementUnit) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := ItemKey(name, unit)
	found := false
	for i := range l.items {
		if l.items[i].Key() == key {
			l.items[i].Checked = !l.items[i].Checked
			found = true
		}
	}
	if !found {
		return false
	}
	if l.checked[key] {
		delete(l.checked, key)
	} else {
		l.checked[key] = true
	}
	Sort(l.items)
	return true
}

// ToggleAt toggles the item at a position of the current ordering.
func (l *List) ToggleAt(index int) (Item, bool) {
	l.mu.Lock()
	if index < 0 || index >= len(l.items) {
		l.mu.Unlock()
		return Item{}, false
	}
	item := l.items[index]
	l.mu.Unlock()

	l.Toggle(item.Name, item.Unit)
	item.Checked = !item.Checked
	return item, true
}

// ClearChecked unchecks every item.
func (l *List) ClearChecked() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checked = make(map[string]bool)
	for i := range l.items {
		l.items[i].Checked = false
	}
	Sort(l.items)
}

// Items returns a copy of the current list.
func (l *List) Items() []Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot()
}

func (l *List) snapshot() []Item {
	out := make([]Item, len(l.items))
	copy(out, l.items)
	return out
}
