package distributions

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// Bijector is an invertible, differentiable transform over [batchSize, dim]
// nodes. The log-det-Jacobian methods return one value per example, shaped
// [batchSize].
//
// Bijectors are pure graph builders: calling any method twice on the same input
// yields the same nodes (variables backing them are created once and reused).
type Bijector interface {
	Forward(x *Node) *Node
	Inverse(y *Node) *Node
	ForwardLogDetJacobian(x *Node) *Node
	InverseLogDetJacobian(y *Node) *Node
}

// Chain composes bijectors the way probability libraries conventionally do:
// Forward applies the last element first, so Chain{b0, b1}.Forward(x) is
// b0.Forward(b1.Forward(x)), and Inverse runs front to back.
type Chain []Bijector

// Forward applies the chain to x, last bijector first.
func (c Chain) Forward(x *Node) *Node {
	for ii := len(c) - 1; ii >= 0; ii-- {
		x = c[ii].Forward(x)
	}
	return x
}

// Inverse applies the inverted chain to y, first bijector first.
func (c Chain) Inverse(y *Node) *Node {
	for _, b := range c {
		y = b.Inverse(y)
	}
	return y
}

// ForwardLogDetJacobian accumulates the per-example forward log-det-Jacobian
// along the chain, evaluated at the intermediate values the Forward pass visits.
func (c Chain) ForwardLogDetJacobian(x *Node) *Node {
	var total *Node
	for ii := len(c) - 1; ii >= 0; ii-- {
		ldj := c[ii].ForwardLogDetJacobian(x)
		if total == nil {
			total = ldj
		} else {
			total = Add(total, ldj)
		}
		x = c[ii].Forward(x)
	}
	if total == nil {
		return ZerosLike(ReduceSum(x, -1))
	}
	return total
}

// InverseLogDetJacobian accumulates the per-example inverse log-det-Jacobian
// along the chain, evaluated at the intermediate values the Inverse pass visits.
func (c Chain) InverseLogDetJacobian(y *Node) *Node {
	var total *Node
	for _, b := range c {
		ldj := b.InverseLogDetJacobian(y)
		if total == nil {
			total = ldj
		} else {
			total = Add(total, ldj)
		}
		y = b.Inverse(y)
	}
	if total == nil {
		return ZerosLike(ReduceSum(y, -1))
	}
	return total
}
