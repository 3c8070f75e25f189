// Package signature computes and checks the X-VERIFY checksums exchanged with PhonePe.
//
// A checksum is hex(sha256(payload + endpointPath + saltKey)) followed by "###" and the salt index.
package signature

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
)

const separator = "###"

type Verifier struct {
	saltKey   string
	saltIndex int
}

func NewVerifier(saltKey string, saltIndex int) *Verifier {
	return &Verifier{saltKey: saltKey, saltIndex: saltIndex}
}

// Compute signs payload for the given endpoint path.
func (v *Verifier) Compute(payload, endpointPath string) string {
	return Compute(payload, endpointPath, v.saltKey, v.saltIndex)
}

// Verify reports whether provided is the checksum of payload for endpointPath.
func (v *Verifier) Verify(payload, endpointPath, provided string) bool {
	return Verify(payload, endpointPath, v.saltKey, v.saltIndex, provided)
}

func Compute(payload, endpointPath, saltKey string, saltIndex int) string {
	sum := sha256.Sum256([]byte(payload + endpointPath + saltKey))
	return hex.EncodeToString(sum[:]) + separator + strconv.Itoa(saltIndex)
}

func Verify(payload, endpointPath, saltKey string, saltIndex int, provided string) bool {
	expected := Compute(payload, endpointPath, saltKey, saltIndex)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}
