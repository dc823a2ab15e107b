package cache

import (
	"strings"
)

// Namespace is the prefix every normalized resource path carries.
const Namespace = "json/"

// NormalizePath converts a logical resource path into its canonical cache key.
//
// Examples:
//
//	home        -> json/home
//	/home       -> json/home
//	/json/home  -> json/home
func NormalizePath(path string) string {
	p := strings.TrimSpace(path)
	p = strings.TrimLeft(p, "/")
	if strings.HasPrefix(p, Namespace) {
		return p
	}
	return Namespace + p
}
