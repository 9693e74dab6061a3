package browser

import "fmt"

// Generations tracks the current render cycle of a page.
//
// A handle is valid only in the generation it was acquired in. Session
// implementations call Advance after every action known to re-render the page
// and Check before every use of a handle.
//
// The zero value starts at generation 0 and is ready to use.
type Generations struct {
	cur uint64
}

// Acquire returns a handle for selector bound to the current generation.
func (g *Generations) Acquire(selector string) Handle {
	return Handle{Selector: selector, Gen: g.cur}
}

// Advance starts a new render cycle and returns its number.
func (g *Generations) Advance() uint64 {
	g.cur++
	return g.cur
}

// Current returns the current generation.
func (g *Generations) Current() uint64 { return g.cur }

// Check returns an error wrapping ErrStale if h was acquired in an earlier
// generation.
func (g *Generations) Check(h Handle) error {
	if h.Gen != g.cur {
		return fmt.Errorf("%w: %s acquired in generation %d, page is at %d", ErrStale, h.Selector, h.Gen, g.cur)
	}
	return nil
}
