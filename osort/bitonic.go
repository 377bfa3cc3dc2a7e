// Package osort implements a data-independent bitonic sorting network.
// The sequence of compare-exchange positions depends only on the input length.
package osort

// Sort sorts s in ascending order using less and a conditional swap.
// less must return exactly 0 or 1; cswap must exchange *a and *b when
// cond == 1 without branching on it.
func Sort[E any](s []E, less func(a, b *E) uint64, cswap func(cond uint64, a, b *E)) {
	n := &network[E]{s: s, less: less, cswap: cswap}
	n.sort(0, len(s), true)
}

type network[E any] struct {
	s     []E
	less  func(a, b *E) uint64
	cswap func(cond uint64, a, b *E)
}

func (n *network[E]) sort(lo, cnt int, up bool) {
	if cnt <= 1 {
		return
	}
	m := cnt / 2
	n.sort(lo, m, !up)
	n.sort(lo+m, cnt-m, up)
	n.merge(lo, cnt, up)
}

// merge handles lengths that are not powers of two by splitting at the
// largest power of two below cnt.
func (n *network[E]) merge(lo, cnt int, up bool) {
	if cnt <= 1 {
		return
	}
	m := pow2Below(cnt)
	for i := lo; i < lo+cnt-m; i++ {
		n.exchange(i, i+m, up)
	}
	n.merge(lo, m, up)
	n.merge(lo+m, cnt-m, up)
}

func (n *network[E]) exchange(i, j int, up bool) {
	a, b := &n.s[i], &n.s[j]
	var cond uint64
	if up {
		cond = n.less(b, a)
	} else {
		cond = n.less(a, b)
	}
	n.cswap(cond, a, b)
}

// pow2Below returns the largest power of two strictly less than n (n >= 2).
func pow2Below(n int) int {
	k := 1
	for k < n {
		k <<= 1
	}
	return k >> 1
}

// Comparisons returns how many compare-exchanges Sort performs on n elements.
func Comparisons(n int) int {
	var c counter
	c.sort(n)
	return int(c)
}

type counter int

func (c *counter) sort(cnt int) {
	if cnt <= 1 {
		return
	}
	m := cnt / 2
	c.sort(m)
	c.sort(cnt - m)
	c.merge(cnt)
}

func (c *counter) merge(cnt int) {
	if cnt <= 1 {
		return
	}
	m := pow2Below(cnt)
	*c += counter(cnt - m)
	c.merge(m)
	c.merge(cnt - m)
}
