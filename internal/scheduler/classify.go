package scheduler

import "strings"

// Classification is the partition of a task list into category buckets.
// Every input task appears in exactly one bucket.
type Classification struct {
	Buckets   map[Category][]Task
	Anomalies []Anomaly // Labels that fell back to CategoryUnclassified
}

// Anomaly records a task whose label could not be resolved.
type Anomaly struct {
	TaskID string
	Label  string
}

// Classify partitions tasks by their raw Label. A task without a label keeps
// the Category it was built with. Empty or unknown labels otherwise land in
// CategoryUnclassified. Insertion order is preserved within each bucket.
// Classify never fails.
func Classify(tasks []Task) Classification {
	c := Classification{Buckets: make(map[Category][]Task)}

	for _, t := range tasks {
		cat, known := categoryOf(t)
		if !known {
			c.Anomalies = append(c.Anomalies, Anomaly{TaskID: t.ID, Label: t.Label})
		}
		cp := cloneTask(t)
		cp.Category = cat
		c.Buckets[cat] = append(c.Buckets[cat], cp)
	}

	return c
}

// categoryOf resolves a task's category, preferring its raw label.
func categoryOf(t Task) (Category, bool) {
	if strings.TrimSpace(t.Label) == "" && t.Category != CategoryUnclassified {
		if _, ok := categoryNames[t.Category]; ok {
			return t.Category, true
		}
	}
	return ParseCategory(t.Label)
}

// Tasks returns the bucket for a category (nil if empty).
func (c Classification) Tasks(cat Category) []Task {
	return c.Buckets[cat]
}

// NonEmpty returns the categories holding at least one task, in the fixed
// order of Categories.
func (c Classification) NonEmpty() []Category {
	var out []Category
	for _, cat := range Categories {
		if len(c.Buckets[cat]) > 0 {
			out = append(out, cat)
		}
	}
	return out
}

// Len returns the total number of classified tasks.
func (c Classification) Len() int {
	n := 0
	for _, b := range c.Buckets {
		n += len(b)
	}
	return n
}
