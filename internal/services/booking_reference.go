package services

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// referenceAlphabet leaves out 0, O and I so references survive being read aloud
const referenceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ123456789"

const referenceRandomLength = 4

// newBookingReference builds prefix + YYMMDD + 4 random characters, e.g. FL250601K7QP
func newBookingReference(prefix string, now time.Time) (string, error) {
	suffix := make([]byte, referenceRandomLength)
	max := big.NewInt(int64(len(referenceAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate booking reference: %w", err)
		}
		suffix[i] = referenceAlphabet[n.Int64()]
	}
	return prefix + now.UTC().Format("060102") + string(suffix), nil
}
