package utils

import (
	"crypto/md5"
	"fmt"
)

// HashString returns a hex md5 digest. Used to derive fixed-length cache keys
// from embedding inputs (model name plus query text) of arbitrary size.
func HashString(input string) string {
	sum := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", sum)
}
