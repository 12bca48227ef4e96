package sortlist

import (
	"cmp"
	"fmt"
	"time"

	"github.com/openslides/vmrepo/pkg/collation"
	"github.com/openslides/vmrepo/pkg/models"
	"github.com/openslides/vmrepo/pkg/viewmodel"
)

// CompareValues orders two field values ascending. Numbers compare
// numerically, strings with the collator, false before true, view models by
// title; nil sorts after everything else.
func CompareValues(c *collation.Collator, a, b any) int {
	aNil, bNil := viewmodel.IsNil(a), viewmodel.IsNil(b)
	switch {
	case aNil && bNil:
		return 0
	case aNil:
		return 1
	case bNil:
		return -1
	}

	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			return cmp.Compare(x, y)
		}
	}

	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return compareStrings(c, x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case viewmodel.ViewModel:
		if y, ok := b.(viewmodel.ViewModel); ok {
			return compareStrings(c, x.Title(), y.Title())
		}
	}
	return compareStrings(c, fmt.Sprint(a), fmt.Sprint(b))
}

func compareStrings(c *collation.Collator, a, b string) int {
	if c == nil {
		return cmp.Compare(a, b)
	}
	return c.Compare(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case models.ID:
		return float64(n), true
	}
	return 0, false
}
