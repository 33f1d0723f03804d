package util

import "strings"

func FindIf[T any](data []T, pred func(t T) bool) int {
	for i, ele := range data {
		if pred(ele) {
			return i
		}
	}
	return -1
}

func CopyTo[T any](src []T) []T {
	dst := make([]T, len(src))
	copy(dst, src)
	return dst
}

// Intersect keeps the elements of a that also appear in b, in a's order.
func Intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[s] = struct{}{}
	}
	ret := make([]string, 0, len(a))
	for _, s := range a {
		if _, has := set[s]; has {
			ret = append(ret, s)
		}
	}
	return ret
}

// IndexFold finds s in data ignoring case.
func IndexFold(data []string, s string) int {
	return FindIf(data, func(t string) bool {
		return strings.EqualFold(t, s)
	})
}
