package namestore

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// adjectives and nouns back GenerateRandomName, which mirrors the
// left-right word-pair scheme the Python runtime used to auto-assign a
// container name when the caller doesn't supply one (Runtime.generate_container_name).
// No pack dependency ships a name generator, so the two word lists are
// hand-maintained here rather than pulled from a library.
var adjectives = []string{
	"admiring", "angry", "blissful", "boring", "clever", "cranky", "dazzling",
	"determined", "eager", "elegant", "focused", "gallant", "happy", "hungry",
	"jolly", "keen", "lucid", "modest", "nostalgic", "practical", "quirky",
	"relaxed", "serene", "stoic", "trusting", "upbeat", "vigilant", "zealous",
}

var nouns = []string{
	"allen", "bardeen", "curie", "darwin", "euclid", "feynman", "galileo",
	"hopper", "ivanova", "jang", "kepler", "lovelace", "mahavira", "newton",
	"ostrowski", "pasteur", "ride", "shannon", "tesla", "turing", "varahamihira",
	"wozniak", "xu", "yalow", "zuse",
}

// GenerateRandomName returns an adjective_noun pair, e.g. "stoic_turing".
// Collisions are the caller's responsibility: Acquire will reject a name
// already in use, and the caller is expected to retry with a fresh draw.
func GenerateRandomName() (string, error) {
	a, err := randomElement(adjectives)
	if err != nil {
		return "", err
	}
	n, err := randomElement(nouns)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s", a, n), nil
}

func randomElement(words []string) (string, error) {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		return "", fmt.Errorf("namestore: failed to draw a random index: %w", err)
	}
	return words[i.Int64()], nil
}
