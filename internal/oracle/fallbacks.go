package oracle

import (
	"strings"

	"github.com/justestif/go-spotify-playlist-ai/internal/recommend"
)

// genreFallbacks are well-known seeds used when the model produces
// nothing usable, keyed by canonical genre (hyphens spaced out).
var genreFallbacks = map[string][]recommend.Suggestion{
	"pop": {
		{Title: "Blinding Lights", Artist: "The Weeknd"},
		{Title: "Levitating", Artist: "Dua Lipa"},
		{Title: "Good 4 U", Artist: "Olivia Rodrigo"},
		{Title: "Watermelon Sugar", Artist: "Harry Styles"},
		{Title: "Don't Start Now", Artist: "Dua Lipa"},
	},
	"rock": {
		{Title: "Mr. Brightside", Artist: "The Killers"},
		{Title: "Seven Nation Army", Artist: "The White Stripes"},
		{Title: "Everlong", Artist: "Foo Fighters"},
		{Title: "Use Somebody", Artist: "Kings of Leon"},
		{Title: "Sweet Child O' Mine", Artist: "Guns N' Roses"},
	},
	"hip hop": {
		{Title: "SICKO MODE", Artist: "Travis Scott"},
		{Title: "Lose Yourself", Artist: "Eminem"},
		{Title: "HUMBLE.", Artist: "Kendrick Lamar"},
		{Title: "God's Plan", Artist: "Drake"},
		{Title: "POWER", Artist: "Kanye West"},
	},
	"electronic": {
		{Title: "Midnight City", Artist: "M83"},
		{Title: "Strobe", Artist: "deadmau5"},
		{Title: "Titanium", Artist: "David Guetta ft. Sia"},
		{Title: "Wake Me Up", Artist: "Avicii"},
		{Title: "Animals", Artist: "Martin Garrix"},
	},
	"jazz": {
		{Title: "So What", Artist: "Miles Davis"},
		{Title: "Take Five", Artist: "The Dave Brubeck Quartet"},
		{Title: "My Favorite Things", Artist: "John Coltrane"},
		{Title: "Blue in Green", Artist: "Bill Evans"},
		{Title: "Feeling Good", Artist: "Nina Simone"},
	},
	"classical": {
		{Title: "Clair de Lune", Artist: "Claude Debussy"},
		{Title: "Nocturne Op.9 No.2", Artist: "Frédéric Chopin"},
		{Title: "Canon in D", Artist: "Johann Pachelbel"},
		{Title: "Spring (The Four Seasons)", Artist: "Antonio Vivaldi"},
		{Title: "Moonlight Sonata", Artist: "Ludwig van Beethoven"},
	},
}

var defaultFallbacks = []recommend.Suggestion{
	{Title: "Dreams", Artist: "Fleetwood Mac"},
	{Title: "Africa", Artist: "Toto"},
	{Title: "Uptown Funk", Artist: "Mark Ronson ft. Bruno Mars"},
	{Title: "Stayin' Alive", Artist: "Bee Gees"},
	{Title: "September", Artist: "Earth, Wind & Fire"},
}

// fallbackSeeds returns canned seeds for the genre, or a genre-agnostic
// default set.
func fallbackSeeds(genre string, limit int) []recommend.Suggestion {
	canonical := strings.TrimSpace(strings.ReplaceAll(strings.ToLower(genre), "-", " "))
	seeds, ok := genreFallbacks[canonical]
	if !ok {
		seeds = defaultFallbacks
	}
	if limit > 0 && len(seeds) > limit {
		seeds = seeds[:limit]
	}
	out := make([]recommend.Suggestion, len(seeds))
	copy(out, seeds)
	return out
}
