// Package fair implements the provably-fair commitment scheme and the
// multiplier curve shared by the engine and by third-party verifiers.
package fair

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

const (
	MinMultiplier = 1.00
	MaxMultiplier = 1000000.00

	// DefaultClientSeed is used when a round is created without a
	// caller-supplied client seed. It only matters for re-verification.
	DefaultClientSeed = "public"

	seedBytes = 32
)

// GenerateSeed returns a hex-encoded 256-bit server seed from the system
// CSPRNG. There is no fallback: if the CSPRNG fails, round creation must
// halt rather than continue with a weaker source.
func GenerateSeed() (string, error) {
	b := make([]byte, seedBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("csprng read: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// CrashMultiplier derives the crash point for a round. It is pure: the same
// inputs always produce the same multiplier, which is what lets players
// verify a round after the server seed is revealed.
//
// HMAC-SHA256(serverSeed, "clientSeed:nonce") -> first 8 bytes -> x in [0,1)
// -> (1-houseEdge)/(1-x), floored to 2 decimals. Values of x below the house
// edge clamp to 1.00, which is the instant-crash case.
func CrashMultiplier(serverSeed, clientSeed string, nonce int, houseEdge float64) float64 {
	mac := hmac.New(sha256.New, []byte(serverSeed))
	fmt.Fprintf(mac, "%s:%d", clientSeed, nonce)
	digest := mac.Sum(nil)

	const maxUint64f = 18446744073709551616.0 // 2^64
	u := binary.BigEndian.Uint64(digest[:8])
	x := float64(u) / maxUint64f

	crash := (1 - houseEdge) / (1 - x)
	crash = math.Floor(crash*100) / 100

	if crash < MinMultiplier {
		return MinMultiplier
	}
	if crash > MaxMultiplier {
		return MaxMultiplier
	}
	return crash
}

// MultiplierAt returns the displayed multiplier after elapsed seconds of
// flight, floored to 2 decimals.
func MultiplierAt(growthRate, elapsed float64) float64 {
	if elapsed <= 0 {
		return MinMultiplier
	}
	m := math.Exp(growthRate * elapsed)
	m = math.Floor(m*100) / 100
	if m < MinMultiplier {
		return MinMultiplier
	}
	return m
}

// ElapsedForMultiplier is the exact inverse of MultiplierAt's curve:
// t = ln(target)/growthRate. The engine uses it to fix the crash deadline
// the moment a round starts flying, so the advertised curve and the actual
// crash time can never diverge.
func ElapsedForMultiplier(target, growthRate float64) float64 {
	if target <= 1 {
		return 0
	}
	return math.Log(target) / growthRate
}

// CommitmentHash returns the SHA-256 commitment to a server seed, published
// before betting opens.
func CommitmentHash(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the crash multiplier from a revealed seed and compares
// it to the recorded value within floating tolerance.
func Verify(serverSeed, clientSeed string, nonce int, houseEdge, claimed float64) bool {
	return math.Abs(CrashMultiplier(serverSeed, clientSeed, nonce, houseEdge)-claimed) < 0.01
}
