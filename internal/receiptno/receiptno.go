// Package receiptno generates human-readable receipt numbers of the form
// INV-XXXXXX where X is an uppercase base36 character. Uniqueness is
// enforced by the store; callers retry on collision.
package receiptno

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	prefix   = "INV-"
	alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	tokenLen = 6
)

func New() string {
	buf := make([]byte, tokenLen)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand never fails on supported platforms; fall back
			// to a timestamp token rather than panicking mid-sale.
			return fmt.Sprintf("%s%06d", prefix, time.Now().UnixNano()%1000000)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return prefix + string(buf)
}
