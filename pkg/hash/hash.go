package hash

import (
	"hash/fnv"

	"github.com/apache/archiva-sub036/pkg/types"
)

// Of hashes the parts separated by '|'. Used as a compact set key.
func Of(parts ...string) uint64 {
	h := fnv.New64a()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte("|"))
		}
		h.Write([]byte(p))
	}
	return h.Sum64()
}

// Project hashes GroupId + ArtifactId
func Project(p types.ProjectReference) uint64 {
	return Of(p.GroupID, p.ArtifactID)
}

// Version hashes GroupId + ArtifactId + Version
func Version(v types.VersionedReference) uint64 {
	return Of(v.GroupID, v.ArtifactID, v.Version)
}

