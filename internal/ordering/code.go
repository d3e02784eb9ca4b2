package ordering

import (
	"fmt"
	"math/rand"
)

const codeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewCode returns a short code customers can read out, like "QK-417".
func NewCode() string {
	return fmt.Sprintf("%c%c-%d",
		codeLetters[rand.Intn(len(codeLetters))],
		codeLetters[rand.Intn(len(codeLetters))],
		100+rand.Intn(900),
	)
}
