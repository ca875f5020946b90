// Package roomcode makes short, speakable room codes.
package roomcode

import (
	"crypto/rand"
	"math/big"
	"strings"
)

var moods = []string{
	"amber", "brisk", "calm", "dapper", "eager", "fuzzy", "gentle", "humble", "jolly", "keen",
	"lucky", "mellow", "nimble", "plucky", "quiet", "rosy", "snug", "sunny", "tidy", "witty",
}

var things = []string{
	"acorn", "bagel", "comet", "dune", "fern", "harbor", "kettle", "lantern", "meadow", "nectar",
	"otter", "pebble", "quill", "raven", "saffron", "teapot", "tulip", "walrus", "willow", "zephyr",
}

var places = []string{
	"attic", "bay", "cabin", "cove", "dock", "garden", "grove", "hall", "island", "loft",
	"market", "nook", "orchard", "porch", "ridge", "studio", "terrace", "valley", "wharf", "yard",
}

const maxAttempts = 16

// Generate returns a code such as "mellow-otter-cove". taken, when non-nil,
// reports codes already in use; those are skipped while attempts remain.
func Generate(taken func(string) bool) string {
	var code string
	for range maxAttempts {
		code = strings.Join([]string{pick(moods), pick(things), pick(places)}, "-")
		if taken == nil || !taken(code) {
			return code
		}
	}
	return code + "-" + pick(things)
}

func pick(words []string) string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(err)
	}
	return words[n.Int64()]
}
