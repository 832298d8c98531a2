// Package util contains helper functions used around the code.
package util

// In reports whether v is found in vs.
func In[T comparable](vs []T, v T) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}

	return false
}
