package xid

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const alnum = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return fmt.Sprintf("%s-%s", prefix, id)
}

// Token returns n cryptographically random alphanumeric characters.
func Token(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(alnum)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alnum[idx.Int64()])
	}
	return b.String(), nil
}

// Letter returns a random lowercase ASCII letter.
func Letter() (byte, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(26))
	if err != nil {
		return 0, err
	}
	return byte('a' + idx.Int64()), nil
}
