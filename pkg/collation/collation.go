// Package collation compares strings in a language-aware order.
package collation

import (
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Collator is safe for concurrent use; the underlying collate.Collator is not.
type Collator struct {
	mu  sync.Mutex
	tag language.Tag
	c   *collate.Collator
}

// New builds a collator for tag. Comparison ignores case differences at the
// primary level and orders numbers numerically ("2" < "10").
func New(tag language.Tag) *Collator {
	return &Collator{tag: tag, c: collate.New(tag, collate.Numeric, collate.IgnoreCase)}
}

// Parse builds a collator from a BCP 47 tag such as "de" or "en-US". Unknown
// tags fall back to language.Und.
func Parse(lang string) *Collator {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.Und
	}
	return New(tag)
}

func (c *Collator) Compare(a, b string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.c.CompareString(a, b)
}

func (c *Collator) Language() language.Tag {
	return c.tag
}
