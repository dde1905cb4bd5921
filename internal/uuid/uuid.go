// Package uuid generates random identifiers for request ids and tokens.
package uuid

import guuid "github.com/google/uuid"

// New returns a random (version 4) UUID in its canonical string form.
func New() string {
	return guuid.NewString()
}
