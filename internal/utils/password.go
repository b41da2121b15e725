package utils

import "golang.org/x/crypto/bcrypt"

// Hasher is the one-way adaptive hash shared by login passwords, refresh
// token secrets and verification codes.
type Hasher struct {
	Cost int
}

func NewHasher(cost int) Hasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return Hasher{Cost: cost}
}

// Hash returns the bcrypt hash of plain.
func (h Hasher) Hash(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify compares hash and plain in constant time.  Malformed hashes count
// as a mismatch.
func (h Hasher) Verify(hash, plain string) bool {
	if hash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	return err == nil
}
