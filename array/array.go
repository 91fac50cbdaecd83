package array

import "iter"

// Iter returns an iterator over the elements of s, in order.
func Iter[T any](s []T) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, v := range s {
			if !yield(v) {
				return
			}
		}
	}
}

// Remove deletes the element at index from arr by swapping it with the
// last element, and returns the shortened slice. Order is not preserved.
func Remove[T any](index int, arr []T) []T {
	l := len(arr) - 1
	arr[index] = arr[l]
	return arr[:l]
}
