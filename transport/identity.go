package transport

import "math/rand/v2"

// NewIdentity returns an identity for node with a fresh, non-zero creation
// number. The backend uses creation to tell gateway restarts apart.
func NewIdentity(node string) Identity {
	creation := rand.Uint32()
	for creation == 0 {
		creation = rand.Uint32()
	}
	return Identity{Node: node, ID: 1, Serial: 0, Creation: creation}
}
