package util

import (
	"strings"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

// ShortAlphabet is used for connection ids and blob key suffixes.
const ShortAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// ShortID returns a random lowercase id of the given length (at most 32).
func ShortID(length int) string {
	id, err := nanoid.Generate(ShortAlphabet, length)
	if err != nil {
		return NewID("")[:length]
	}
	return id
}
