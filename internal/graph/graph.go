package graph

import (
	"fmt"
	"sync"

	"github.com/nao1215/statecrawl/internal/model"
)

// Graph is a directed multigraph of states connected by the actions that
// caused the transitions.
type Graph struct {
	mu            sync.RWMutex
	states        []*model.State
	byFingerprint map[string]*model.State
	edges         []model.Edge
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		byFingerprint: make(map[string]*model.State),
	}
}

// RegisterState returns the state identified by fingerprint, creating it
// when it does not exist yet. The boolean is true only for the caller that
// created the state. A new state receives the next sequential id and the
// given candidate actions; candidates are ignored for known states.
func (g *Graph) RegisterState(fingerprint, url string, candidates []model.CandidateAction) (*model.State, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if s, ok := g.byFingerprint[fingerprint]; ok {
		return s, false
	}

	s := model.NewState(len(g.states), url, fingerprint)
	s.AddCandidates(candidates)
	g.states = append(g.states, s)
	g.byFingerprint[fingerprint] = s
	return s, true
}

// AddEdge records a transition. Parallel edges are kept.
func (g *Graph) AddEdge(from, to *model.State, action model.CandidateAction) {
	g.mu.Lock()
	defer g.mu.Unlock()

	action.StateID = from.ID
	g.edges = append(g.edges, model.Edge{From: from.ID, To: to.ID, Action: action})
}

// RecordFailedEvent marks action as attempted on its owning state and keeps
// the reason it failed.
func (g *Graph) RecordFailedEvent(action model.CandidateAction, reason error) error {
	s, ok := g.State(action.StateID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownState, action.StateID)
	}
	s.RecordFailure(action, reason.Error())
	return nil
}

// State returns the state with the given id.
func (g *Graph) State(id int) (*model.State, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if id < 0 || id >= len(g.states) {
		return nil, false
	}
	return g.states[id], true
}

// Index returns the first registered state, or nil for an empty graph.
func (g *Graph) Index() *model.State {
	s, _ := g.State(0)
	return s
}

// AllStates returns a snapshot of the states ordered by id.
func (g *Graph) AllStates() []*model.State {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*model.State, len(g.states))
	copy(out, g.states)
	return out
}

// StateCount returns the number of registered states.
func (g *Graph) StateCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.states)
}

// Edges returns a snapshot of the edges in insertion order.
func (g *Graph) Edges() []model.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]model.Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// FanIn returns the number of edges ending in the state.
func (g *Graph) FanIn(id int) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := 0
	for _, e := range g.edges {
		if e.To == id {
			n++
		}
	}
	return n
}

// FanOut returns the number of edges leaving the state.
func (g *Graph) FanOut(id int) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := 0
	for _, e := range g.edges {
		if e.From == id {
			n++
		}
	}
	return n
}

// PathTo returns the shortest sequence of edges leading from the index
// state to the state with the given id. The path to the index is empty.
// The boolean is false when the state cannot be reached through recorded
// edges.
func (g *Graph) PathTo(id int) ([]model.Edge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if id < 0 || id >= len(g.states) {
		return nil, false
	}
	if id == 0 {
		return nil, true
	}

	via := make(map[int]int) // state id -> index of the edge that first reached it
	visited := map[int]bool{0: true}
	frontier := []int{0}
	for len(frontier) > 0 && !visited[id] {
		var next []int
		for _, from := range frontier {
			for i, e := range g.edges {
				if e.From != from || visited[e.To] {
					continue
				}
				visited[e.To] = true
				via[e.To] = i
				next = append(next, e.To)
			}
		}
		frontier = next
	}
	if !visited[id] {
		return nil, false
	}

	var path []model.Edge
	for cur := id; cur != 0; {
		e := g.edges[via[cur]]
		path = append(path, e)
		cur = e.From
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, true
}
