package services

import (
	"math/rand"
	"strings"
)

var slugAdjectives = []string{
	"amber", "ancient", "bold", "brave", "breezy", "bright", "calm", "clever",
	"cozy", "crisp", "curly", "dapper", "eager", "fancy", "fluffy", "gentle",
	"giant", "glad", "golden", "happy", "hidden", "humble", "jolly", "kind",
	"lively", "lucky", "mellow", "misty", "modern", "noble", "odd", "plain",
	"polite", "quick", "quiet", "rapid", "rustic", "shiny", "silent", "silly",
	"sleek", "smooth", "snowy", "sunny", "swift", "tall", "tidy", "tiny",
	"vivid", "warm", "wild", "witty", "young", "zesty",
}

var slugNouns = []string{
	"acorn", "apartment", "attic", "balcony", "barn", "beach", "bungalow",
	"cabin", "castle", "cellar", "chalet", "cottage", "courtyard", "deck",
	"garden", "gate", "harbor", "hill", "island", "kitchen", "lake", "lodge",
	"loft", "meadow", "mill", "orchard", "pantry", "patio", "pier", "porch",
	"ranch", "river", "roof", "shed", "shore", "studio", "terrace", "tower",
	"valley", "villa", "window", "yard",
}

// generateSlug returns a dash separated slug of n words: adjectives
// followed by a noun, e.g. "brave-misty-harbor".
func generateSlug(n int) string {
	if n < 1 {
		n = 1
	}
	words := make([]string, 0, n)
	for i := 0; i < n-1; i++ {
		words = append(words, slugAdjectives[rand.Intn(len(slugAdjectives))])
	}
	words = append(words, slugNouns[rand.Intn(len(slugNouns))])
	return strings.Join(words, "-")
}
