package check

import (
	"crypto/rand"
	"fmt"
)

func randomSuffix() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "fallback"
	}
	return fmt.Sprintf("%x", b)
}
