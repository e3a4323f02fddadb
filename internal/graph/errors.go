package graph

import "errors"

// ErrUnknownState is returned when an operation names a state id the graph
// does not contain.
var ErrUnknownState = errors.New("unknown state")
