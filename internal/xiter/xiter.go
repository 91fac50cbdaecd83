// See https://github.com/golang/go/issues/61898
package xiter

import "iter"

type Pair[K, V any] struct {
	K K
	V V
}

type Group[K, V any] struct {
	Key   string
	Pairs []Pair[K, V]
}

// GroupBy2 groups the pairs of seq by f(k, v).
func GroupBy2[K, V any](seq iter.Seq2[K, V], f func(K, V) string) []Group[K, V] {
	groups := make(map[string][]Pair[K, V])
	for k, v := range seq {
		key := f(k, v)
		if pairs, ok := groups[key]; ok {
			groups[key] = append(pairs, Pair[K, V]{K: k, V: v})
		} else {
			groups[key] = []Pair[K, V]{{K: k, V: v}}
		}
	}
	pairs := make([]Group[K, V], 0)
	for k, group := range groups {
		pairs = append(pairs, Group[K, V]{Key: k, Pairs: group})
	}
	return pairs
}

// Vals returns an iterator over the values of s, discarding the keys.
func Vals[K, V any](s iter.Seq2[K, V]) iter.Seq[V] {
	return func(yield func(V) bool) {
		for _, v := range s {
			if !yield(v) {
				return
			}
		}
	}
}
