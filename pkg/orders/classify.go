package orders

import "strings"

// Classifier decides whether a record is a shoe. An item is non-shoe when
// the Width-character segment at Offset within the serialized id begins
// with NonShoePrefix. The offset has moved between export revisions, so it
// is configuration rather than a constant.
type Classifier struct {
	Offset        int
	Width         int
	NonShoePrefix string
}

// DefaultClassifier matches the current export revision: the 6-character
// style id starts right after the region prefix, and style ids beginning
// with "7" are accessories.
func DefaultClassifier() Classifier {
	return Classifier{Offset: 1, Width: 6, NonShoePrefix: "7"}
}

// IsShoe reports whether the record's item is a shoe. Ids too short to
// carry the classified segment are treated as shoes; the rule only exists
// to demote accessories.
func (c Classifier) IsShoe(r Record) bool {
	sid := r.SerializedID
	if len(sid) < c.Offset+c.Width {
		return true
	}
	segment := sid[c.Offset : c.Offset+c.Width]
	return !strings.HasPrefix(segment, c.NonShoePrefix)
}
