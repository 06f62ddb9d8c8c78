package maxflow

import "math"

// solver runs Dinic phases over a node subset. Level and arc-iterator state
// lives in the Graph but is only written for the solver's own nodes.
type solver struct {
	g        *Graph
	nodes    []int32
	region   int32
	restrict bool
	queue    []int32
}

func (s *solver) in(v int32) bool {
	return !s.restrict || s.g.region[v] == s.region
}

func (s *solver) run() float64 {
	g := s.g
	s.queue = make([]int32, 0, len(s.nodes))
	var total float64
	for s.buildLevels() {
		for _, v := range s.nodes {
			g.iter[v] = g.first[v]
		}
		var phase float64
		for _, v := range s.nodes {
			for g.term[v] > Epsilon && g.level[v] == 0 {
				d := s.augment(v, g.term[v])
				if d <= 0 {
					break
				}
				g.term[v] -= d
				phase += d
			}
		}
		if phase <= 0 {
			break
		}
		total += phase
	}
	return total
}

// buildLevels labels nodes by BFS distance from the source side and reports
// whether any node with sink capacity was reached.
func (s *solver) buildLevels() bool {
	g := s.g
	s.queue = s.queue[:0]
	for _, v := range s.nodes {
		g.level[v] = -1
		if g.term[v] > Epsilon {
			g.level[v] = 0
			s.queue = append(s.queue, v)
		}
	}
	reached := false
	for i := 0; i < len(s.queue); i++ {
		u := s.queue[i]
		if g.term[u] < -Epsilon {
			reached = true
		}
		for a := g.first[u]; a >= 0; a = g.next[a] {
			v := g.to[a]
			if g.rcap[a] > Epsilon && s.in(v) && g.level[v] < 0 {
				g.level[v] = g.level[u] + 1
				s.queue = append(s.queue, v)
			}
		}
	}
	return reached
}

// augment pushes at most f units from u towards the sink along the level
// graph and returns the amount pushed.
func (s *solver) augment(u int32, f float64) float64 {
	g := s.g
	var pushed float64
	if t := g.term[u]; t < -Epsilon {
		d := math.Min(f, -t)
		g.term[u] += d
		pushed += d
		f -= d
		if f <= Epsilon {
			return pushed
		}
	}
	for g.iter[u] >= 0 {
		a := g.iter[u]
		v := g.to[a]
		if g.rcap[a] > Epsilon && s.in(v) && g.level[v] == g.level[u]+1 {
			d := s.augment(v, math.Min(f, g.rcap[a]))
			if d > 0 {
				g.rcap[a] -= d
				g.rcap[a^1] += d
				pushed += d
				f -= d
				if f <= Epsilon {
					return pushed
				}
			}
		}
		g.iter[u] = g.next[a]
	}
	// dead end for the rest of this phase
	g.level[u] = -1
	return pushed
}
