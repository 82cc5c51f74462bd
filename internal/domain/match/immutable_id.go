package match

import (
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// ImmutableID derives the cloud immutable id from an on-premises objectGUID.
// The id is the base64 encoding of the GUID in its Windows byte layout,
// where the first three groups are little-endian.
func ImmutableID(objectGUID string) (string, error) {
	id, err := uuid.Parse(objectGUID)
	if err != nil {
		return "", fmt.Errorf("parse object guid %q: %w", objectGUID, err)
	}
	b := id[:]
	le := []byte{
		b[3], b[2], b[1], b[0],
		b[5], b[4],
		b[7], b[6],
		b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15],
	}
	return base64.StdEncoding.EncodeToString(le), nil
}

// ObjectGUID reverses ImmutableID.
func ObjectGUID(immutableID string) (string, error) {
	le, err := base64.StdEncoding.DecodeString(immutableID)
	if err != nil {
		return "", fmt.Errorf("decode immutable id: %w", err)
	}
	if len(le) != 16 {
		return "", fmt.Errorf("decode immutable id: want 16 bytes, got %d", len(le))
	}
	var id uuid.UUID
	copy(id[:], []byte{
		le[3], le[2], le[1], le[0],
		le[5], le[4],
		le[7], le[6],
	})
	copy(id[8:], le[8:])
	return id.String(), nil
}
