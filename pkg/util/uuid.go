package util

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Md5ThenHex is a quick hasher
func Md5ThenHex(value []byte) string {
	hasher := md5.New()
	hasher.Write(value)
	return hex.EncodeToString(hasher.Sum(nil))
}

// HashUUID fingerprints the JSON encoding of value as a UUID. Equal values
// always hash to the same id.
func HashUUID(value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("hash uuid: %w", err)
	}
	hash := md5.Sum(raw)
	id, err := uuid.FromBytes(hash[:])
	if err != nil {
		return "", fmt.Errorf("hash uuid: %w", err)
	}
	return id.String(), nil
}
