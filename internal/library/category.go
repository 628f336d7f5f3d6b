package library

// categoryNames maps DLsite category codes to display names.
var categoryNames = map[string]string{
	"ACN": "Action",
	"ADV": "Adventure",
	"QIZ": "Quiz",
	"ICG": "CG/Illustrations",
	"DNV": "Digital Novel",
	"SCM": "Gekiga",
	"IMT": "Illustration Materials",
	"MNG": "Manga",
	"ET3": "Miscellaneous",
	"ETC": "Miscellaneous Game",
	"MUS": "Music",
	"AMT": "Music Materials",
	"NRE": "Novel",
	"PZL": "Puzzle",
	"RPG": "Role Playing",
	"STG": "Shooting",
	"SLN": "Simulation",
	"TBL": "Table",
	"TOL": "Tools/Accessories",
	"TYP": "Typing",
	"MOV": "Video",
	"SOU": "Voice/ASMR",
	"VCM": "Voiced Comic",
	"WBT": "Webtoon",
}

// CategoryName returns the display name for a category code. Unknown codes
// come back unchanged so the catalog still renders something.
func CategoryName(code string) string {
	if name, ok := categoryNames[code]; ok {
		return name
	}
	return code
}

// KnownCategory reports whether code is in the fixed category table.
func KnownCategory(code string) bool {
	_, ok := categoryNames[code]
	return ok
}
