package track

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
)

// ID identifies a Track aggregate: "trck-" followed by a uuid4 in hex,
// e.g. trck-749e0d12574a4d4594e72488461574d0.
type ID string

func NewID() ID {
	u := uuid.Must(uuid.NewV4())
	return ID("trck-" + hex.EncodeToString(u.Bytes()))
}

// ParseID validates an id received from the outside.
func ParseID(s string) (ID, error) {
	rest, ok := strings.CutPrefix(s, "trck-")
	if !ok {
		return "", fmt.Errorf("track id %q: missing trck namespace", s)
	}
	raw, err := hex.DecodeString(rest)
	if err != nil || len(raw) != 16 {
		return "", fmt.Errorf("track id %q: not a hex uuid", s)
	}
	return ID(s), nil
}

func (id ID) String() string { return string(id) }
