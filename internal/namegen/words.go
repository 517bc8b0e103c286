package namegen

var adjectives = []string{
	"happy", "sunny", "swift", "calm", "bold", "bright", "cool", "warm",
	"quick", "clever", "brave", "gentle", "kind", "proud", "wise", "keen",
	"fresh", "crisp", "pure", "clear", "wild", "free", "silent", "quiet",
	"golden", "silver", "coral", "amber", "jade", "ruby", "pearl", "onyx",
}

var nouns = []string{
	"tiger", "eagle", "wolf", "bear", "hawk", "fox", "deer", "owl",
	"river", "mountain", "forest", "ocean", "meadow", "valley", "canyon", "island",
	"star", "moon", "cloud", "storm", "wind", "flame", "wave", "stone",
	"maple", "cedar", "pine", "oak", "willow", "birch", "aspen", "elm",
}

// Reserved names can never be claimed as a subdomain or slug.
var Reserved = []string{
	"www", "api", "admin", "dashboard", "mail", "ftp", "cdn", "static", "assets", "hosted", "users",
}
