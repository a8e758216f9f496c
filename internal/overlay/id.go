package overlay

import "github.com/google/uuid"

// WriteIDProvider mints the correlation id of one logical local write.
type WriteIDProvider interface {
	NewWriteID() (uuid.UUID, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs a WriteIDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() WriteIDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewWriteID() (uuid.UUID, error) {
	return uuid.NewV7()
}
