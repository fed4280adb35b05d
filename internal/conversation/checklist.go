package conversation

import "errors"

// ErrNoSelection is returned when a checklist is submitted empty.
var ErrNoSelection = errors.New("select at least one option")

// Checklist tracks the ticked options of a multi-select prompt.
type Checklist struct {
	options  []string
	limit    int
	selected []string
}

// NewChecklist builds selection state for a checklist affordance.
func NewChecklist(a Affordance) *Checklist {
	limit := a.MaxSelections
	if limit <= 0 || limit > len(a.Options) {
		limit = len(a.Options)
	}
	return &Checklist{options: cloneStrings(a.Options), limit: limit}
}

// Options returns the selectable options in display order.
func (c *Checklist) Options() []string { return c.options }

// Max returns the selection cap.
func (c *Checklist) Max() int { return c.limit }

// Selected reports whether option is ticked.
func (c *Checklist) Selected(option string) bool {
	return indexOf(c.selected, option) >= 0
}

// Full reports whether the cap has been reached.
func (c *Checklist) Full() bool {
	return len(c.selected) >= c.limit
}

// Toggle flips option. Adding beyond the cap and unknown options are
// refused; removal always succeeds. It reports whether state changed.
func (c *Checklist) Toggle(option string) bool {
	if i := indexOf(c.selected, option); i >= 0 {
		c.selected = append(c.selected[:i], c.selected[i+1:]...)
		return true
	}
	if indexOf(c.options, option) < 0 || c.Full() {
		return false
	}
	c.selected = append(c.selected, option)
	return true
}

// Selections returns ticked options in the order they were ticked.
func (c *Checklist) Selections() []string {
	return cloneStrings(c.selected)
}

// Submit turns the state into an interaction.
func (c *Checklist) Submit() (ChecklistSelections, error) {
	if len(c.selected) == 0 {
		return ChecklistSelections{}, ErrNoSelection
	}
	return ChecklistSelections{Selections: c.Selections()}, nil
}

func indexOf(list []string, v string) int {
	for i, item := range list {
		if item == v {
			return i
		}
	}
	return -1
}
