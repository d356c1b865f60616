// Package identifier generates the short random identifiers used for
// sessions and questions.
package identifier

import (
	"crypto/rand"
	"fmt"
	"time"
)

const (
	idLength = 8
	alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// NewSessionID returns a fresh session identifier, e.g. "ses_k3j9x2ab".
func NewSessionID() string {
	return "ses_" + randomID(idLength)
}

// NewQuestionID returns a fresh question identifier, e.g. "q_7h2kd0mz".
func NewQuestionID() string {
	return "q_" + randomID(idLength)
}

// randomID returns n lowercase alphanumeric characters from crypto/rand,
// falling back to a timestamp-derived value if the source is unavailable.
func randomID(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%0*d", n, time.Now().UnixNano()%1_0000_0000)
	}
	for i := range buf {
		buf[i] = alphabet[int(buf[i])%len(alphabet)]
	}
	return string(buf)
}
