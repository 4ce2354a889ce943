package cache

import (
	"fmt"
	"strings"
)

// GenerateKey joins a namespace and an identifier into a cache key.
func GenerateKey(namespace, id string) string {
	return namespace + ":" + id
}

// GenerateKeyWithParams builds a cache key from a namespace and any number
// of parameters, each rendered with %v.
func GenerateKeyWithParams(namespace string, params ...interface{}) string {
	var b strings.Builder
	b.WriteString(namespace)
	for _, p := range params {
		fmt.Fprintf(&b, ":%v", p)
	}
	return b.String()
}

// BuildPattern turns a key namespace into a glob matching every key under it.
func BuildPattern(namespace string) string {
	return namespace + "*"
}

func trimGlob(pattern string) string {
	return strings.TrimSuffix(pattern, "*")
}
