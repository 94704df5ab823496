package regulator

import "fmt"

// Divider releases one output trigger for every Divisor input edges.
type Divider struct {
	divisor int
	count   int
}

// NewDivider creates a Divider. divisor must be at least 1.
func NewDivider(divisor int) (Divider, error) {
	var d Divider
	if err := d.SetDivisor(divisor); err != nil {
		return Divider{}, err
	}
	return d, nil
}

// OnEdge counts an edge and reports whether it releases an output trigger.
func (d *Divider) OnEdge() bool {
	d.count++
	if d.count >= d.divisor {
		d.count = 0
		return true
	}
	return false
}

// SetDivisor changes the divisor and restarts counting.
func (d *Divider) SetDivisor(divisor int) error {
	if divisor < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidDivider, divisor)
	}
	d.divisor = divisor
	d.count = 0
	return nil
}

// Reset restarts counting without changing the divisor.
func (d *Divider) Reset() {
	d.count = 0
}

// State returns the current divisor and count.
func (d *Divider) State() DividerState {
	return DividerState{Divisor: d.divisor, Count: d.count}
}
