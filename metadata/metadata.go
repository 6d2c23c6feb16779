// Package metadata keeps information about tracks which is learned while
// they are decoded and which should outlive a single source.
package metadata

import (
	"encoding/gob"
	"os"

	cache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
)

// TrackInfo is the information known about a track.
type TrackInfo struct {
	// EstablishedGain is the loudness normalization gain which has been
	// latched for the track. It is nil until enough audio was analyzed.
	EstablishedGain *float32 `json:"establishedGain,omitempty"`
}

func init() {
	gob.Register(TrackInfo{})
}

// Store is a concurrency safe track info cache keyed by track uid.
type Store struct {
	cache *cache.Cache
}

// NewStore returns an empty store. Entries never expire.
func NewStore() *Store {
	return &Store{
		cache: cache.New(cache.NoExpiration, 0),
	}
}

// TrackInfo returns the information stored for uid.
func (s *Store) TrackInfo(uid string) (TrackInfo, bool) {
	v, ok := s.cache.Get(uid)
	if !ok {
		return TrackInfo{}, false
	}
	info, ok := v.(TrackInfo)
	return info, ok
}

// SetEstablishedGain records the latched gain of uid.
func (s *Store) SetEstablishedGain(uid string, gain float32) {
	info, _ := s.TrackInfo(uid)
	g := gain
	info.EstablishedGain = &g
	s.cache.Set(uid, info, cache.NoExpiration)
}

// Len returns the amount of stored tracks.
func (s *Store) Len() int {
	return s.cache.ItemCount()
}

// Save writes the store to path.
func (s *Store) Save(path string) error {
	if err := s.cache.SaveFile(path); err != nil {
		return errors.Wrapf(err, "save track info to %s", path)
	}
	return nil
}

// Load merges the entries stored in path into the store. A missing file
// is not an error.
func (s *Store) Load(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := s.cache.LoadFile(path); err != nil {
		return errors.Wrapf(err, "load track info from %s", path)
	}
	return nil
}
