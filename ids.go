package toolstream

import (
	"fmt"

	"github.com/google/uuid"
)

// IDGenerator returns a new unique id with the given prefix.
type IDGenerator func(prefix string) string

// NewID returns "<prefix>-<uuid>".
func NewID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
