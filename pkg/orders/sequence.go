package orders

import "sort"

// Sequencer produces the deterministic dispatch order: shipping-method
// priority class first, optionally shoes before non-shoes, then creation
// time ascending. The sort is stable, so records with identical keys keep
// their input order.
type Sequencer struct {
	// Priorities maps shipping-method strings to priority classes
	// (lower dispatches first). Methods not in the map get
	// DefaultPriority.
	Priorities      map[string]int
	DefaultPriority int

	// ShoesFirst enables the shoe-before-non-shoe secondary key using
	// Classifier.
	ShoesFirst bool
	Classifier Classifier
}

// PriorityClass returns the record's shipping-method priority class.
func (s Sequencer) PriorityClass(r Record) int {
	if class, ok := s.Priorities[r.ShippingMethod]; ok {
		return class
	}
	return s.DefaultPriority
}

func (s Sequencer) shoeClass(r Record) int {
	if s.Classifier.IsShoe(r) {
		return 0
	}
	return 1
}

// Sort orders records in place into the dispatch sequence.
func (s Sequencer) Sort(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		pi, pj := s.PriorityClass(records[i]), s.PriorityClass(records[j])
		if pi != pj {
			return pi < pj
		}
		if s.ShoesFirst {
			si, sj := s.shoeClass(records[i]), s.shoeClass(records[j])
			if si != sj {
				return si < sj
			}
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
