package classifier

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

func base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// cacheKey hashes the raw grid bytes rather than using them directly as
// a map key, since a 1024-byte grid is an unwieldy key and two
// spectrograms are never meaningfully "close" for memoization purposes.
func cacheKey(imageBytes []byte) string {
	sum := sha256.Sum256(imageBytes)
	return hex.EncodeToString(sum[:8])
}
