// Package resolver decides which channels need fresh content.
package resolver

import "postgarden/internal/domain"

// Stale returns, in enumeration order, the channels whose remote identifier
// must be installed. A nil local manifest marks every published channel stale.
// A channel without a remote identifier is never stale.
func Stale(channels []domain.Channel, remote, local domain.Manifest) []domain.Channel {
	var stale []domain.Channel
	for _, c := range channels {
		remoteID, ok := remote.Get(c)
		if !ok {
			continue
		}
		if local == nil {
			stale = append(stale, c)
			continue
		}
		if localID, ok := local.Get(c); !ok || localID != remoteID {
			stale = append(stale, c)
		}
	}
	return stale
}

// Merge returns the manifest to commit after a pass: remote identifiers for
// the installed channels, local values for every other channel.
func Merge(channels []domain.Channel, remote, local domain.Manifest, installed []domain.Channel) domain.Manifest {
	next := make(domain.Manifest, len(channels))
	for _, c := range channels {
		if v, ok := local[c]; ok {
			next[c] = v
		}
	}
	next = next.Clone()
	for _, c := range installed {
		if id, ok := remote.Get(c); ok {
			next.Set(c, id)
		}
	}
	return next
}
