// Package match holds the mock user directory and the candidate pool that
// strangers are drawn from.
package match

import (
	"strings"

	"github.com/bits-and-blooms/bitset"

	"github.com/Gopher0727/Strangers/internal/model"
)

// Rand is the slice of math/rand/v2 the pool draws with.
type Rand interface {
	IntN(n int) int
}

// Pool indexes candidates by gender and interest so a filtered draw is a
// few mask intersections.
type Pool struct {
	users    []model.User
	index    map[string]uint
	all      *bitset.BitSet
	gender   map[model.Gender]*bitset.BitSet
	interest map[model.Interest]*bitset.BitSet
}

func NewPool(users []model.User) *Pool {
	p := &Pool{
		users:    append([]model.User(nil), users...),
		index:    make(map[string]uint, len(users)),
		all:      bitset.New(uint(len(users))),
		gender:   make(map[model.Gender]*bitset.BitSet),
		interest: make(map[model.Interest]*bitset.BitSet),
	}
	for i, u := range p.users {
		bit := uint(i)
		p.index[u.ID] = bit
		p.all.Set(bit)
		if _, ok := p.gender[u.Gender]; !ok {
			p.gender[u.Gender] = bitset.New(uint(len(users)))
		}
		p.gender[u.Gender].Set(bit)
		if _, ok := p.interest[u.Interest]; !ok {
			p.interest[u.Interest] = bitset.New(uint(len(users)))
		}
		p.interest[u.Interest].Set(bit)
	}
	return p
}

// Size is the number of candidates before any exclusion.
func (p *Pool) Size() int { return len(p.users) }

// Eligible lists the candidates not in blocked. Filters only narrow the
// pool when pro is set.
func (p *Pool) Eligible(blocked []string, f model.Filters, pro bool) []model.User {
	mask := p.all.Clone()
	for _, id := range blocked {
		if bit, ok := p.index[id]; ok {
			mask.Clear(bit)
		}
	}

	location := ""
	if pro {
		if f.Gender != "" {
			mask.InPlaceIntersection(p.maskOrEmpty(p.gender[f.Gender]))
		}
		if f.Interest != "" {
			mask.InPlaceIntersection(p.maskOrEmpty(p.interest[f.Interest]))
		}
		location = strings.ToLower(strings.TrimSpace(f.Location))
	}

	out := make([]model.User, 0, mask.Count())
	for bit, ok := mask.NextSet(0); ok; bit, ok = mask.NextSet(bit + 1) {
		u := p.users[bit]
		if location != "" && !strings.Contains(strings.ToLower(u.Location), location) {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Pick draws one eligible candidate uniformly. ok is false when nobody is
// eligible.
func (p *Pool) Pick(blocked []string, f model.Filters, pro bool, rng Rand) (user model.User, ok bool) {
	eligible := p.Eligible(blocked, f, pro)
	if len(eligible) == 0 {
		return model.User{}, false
	}
	return eligible[rng.IntN(len(eligible))], true
}

func (p *Pool) maskOrEmpty(m *bitset.BitSet) *bitset.BitSet {
	if m == nil {
		return bitset.New(uint(len(p.users)))
	}
	return m
}
