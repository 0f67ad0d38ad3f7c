package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/quota-bridge/portal/pkg/auth"
)

// record is the persisted form of one realm slot.
type record struct {
	// Version is the serialization format version.
	Version int `json:"version"`

	SubjectID     string    `json:"subject_id"`
	Role          auth.Role `json:"role"`
	Token         string    `json:"token"`
	DisplayName   string    `json:"display_name,omitempty"`
	BoundAccount  string    `json:"bound_account,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	EstablishedAt time.Time `json:"established_at"`
}

// CurrentSerializationVersion is the current version of the slot format.
// Increment when making breaking changes to the format.
const CurrentSerializationVersion = 1

func encodeSlot(identity auth.Identity, sess auth.Session) ([]byte, error) {
	return json.Marshal(record{
		Version:       CurrentSerializationVersion,
		SubjectID:     identity.SubjectID,
		Role:          identity.Role,
		Token:         sess.Token,
		DisplayName:   identity.DisplayName,
		BoundAccount:  identity.BoundExternalAccount,
		CreatedAt:     identity.CreatedAt,
		EstablishedAt: sess.EstablishedAt,
	})
}

// decodeSlot parses data read from realm's slot. Any problem is reported as
// auth.ErrCorruptState.
func decodeSlot(realm auth.Realm, data []byte) (auth.Identity, auth.Session, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return auth.Identity{}, auth.Session{}, fmt.Errorf("%w: %v", auth.ErrCorruptState, err)
	}
	if rec.Version != CurrentSerializationVersion {
		return auth.Identity{}, auth.Session{}, fmt.Errorf("%w: unsupported version %d", auth.ErrCorruptState, rec.Version)
	}

	identity := auth.Identity{
		SubjectID:            rec.SubjectID,
		DisplayName:          rec.DisplayName,
		Role:                 rec.Role,
		BoundExternalAccount: rec.BoundAccount,
		CreatedAt:            rec.CreatedAt,
	}
	sess := auth.Session{
		Token:         rec.Token,
		EstablishedAt: rec.EstablishedAt,
		Realm:         realm,
	}
	if err := auth.Check(identity, sess); err != nil {
		return auth.Identity{}, auth.Session{}, fmt.Errorf("%w: %v", auth.ErrCorruptState, err)
	}
	return identity, sess, nil
}
