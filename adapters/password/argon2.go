package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/0xfutbol/id/ports"
	"golang.org/x/crypto/argon2"
)

// Params tunes the argon2id key derivation.
type Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLen     int
	KeyLen      uint32
}

// DefaultParams is 64 MiB, three passes, one lane.
var DefaultParams = Params{
	Memory:      64 * 1024,
	Time:        3,
	Parallelism: 1,
	SaltLen:     16,
	KeyLen:      32,
}

// maxMemory caps the m parameter read back from a stored hash (1 GiB).
const maxMemory = 1 << 20

var ErrInvalidHash = errors.New("invalid password hash")

// Argon2Hasher produces PHC-formatted argon2id hashes:
// $argon2id$v=19$m=<M>,t=<T>,p=<P>$<b64 salt>$<b64 key>
type Argon2Hasher struct {
	params Params
}

func NewArgon2Hasher(params Params) *Argon2Hasher {
	return &Argon2Hasher{params: params}
}

var _ ports.PasswordHasher = (*Argon2Hasher)(nil)

func (h *Argon2Hasher) Hash(password string) (string, error) {
	p := h.params
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to read salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, p.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the key with the parameters stored in encoded, so hashes
// made under older params keep verifying.
func (h *Argon2Hasher) Verify(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return false, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, ErrInvalidHash
	}

	var m, t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return false, ErrInvalidHash
	}
	if t < 1 || p < 1 || m < 1 || m > maxMemory {
		return false, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return false, ErrInvalidHash
	}
	keyRef, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(keyRef) == 0 {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey([]byte(password), salt, t, m, p, uint32(len(keyRef)))
	return subtle.ConstantTimeCompare(key, keyRef) == 1, nil
}
