package parts

import (
	"reflect"

	"github.com/emersion/go-ical"

	"github.com/cyp0633/libcalseal/vcal"
)

// Merge folds decrypted subsets into one VEVENT. Subsets are applied in the
// given order: a unique property keeps the first value seen, multi-valued
// properties collect every distinct value, and children are appended. Nil
// entries are skipped.
func Merge(subsets ...*vcal.Component) *vcal.Component {
	out := vcal.NewComponent(ical.CompEvent)
	for _, sub := range subsets {
		if sub == nil {
			continue
		}
		for _, name := range sub.Names() {
			for _, p := range sub.All(name) {
				addMerged(out, p)
			}
		}
		for _, child := range sub.Children {
			out.Children = append(out.Children, child.Clone())
		}
	}
	return out
}

func addMerged(out *vcal.Component, p vcal.Property) {
	if vcal.IsUnique(p.Name) {
		if !out.Has(p.Name) {
			out.Set(p.Clone())
		}
		return
	}
	for _, existing := range out.All(p.Name) {
		if reflect.DeepEqual(existing, p) {
			return
		}
	}
	out.Add(p.Clone())
}
