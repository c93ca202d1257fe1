package app

import "strings"

// subjectAliases maps user-facing subject names to index keys. An empty
// target marks names that mean "no particular subject".
var subjectAliases = map[string]string{
	"математика":       "math",
	"матем":            "math",
	"math":             "math",
	"maths":            "math",
	"алгебра":          "algebra",
	"algebra":          "algebra",
	"геометрия":        "geometry",
	"geometry":         "geometry",
	"физика":           "physics",
	"physics":          "physics",
	"химия":            "chemistry",
	"chemistry":        "chemistry",
	"биология":         "biology",
	"biology":          "biology",
	"русский":          "russian",
	"русский язык":     "russian",
	"литература":       "literature",
	"английский":       "english",
	"английский язык":  "english",
	"история":          "history",
	"обществознание":   "social",
	"география":        "geography",
	"информатика":      "informatics",
	"белорусский":      "belarusian",
	"белорусский язык": "belarusian",
	"окружающий мир":   "nature",
	"человек и мир":    "nature",
	"auto":             "",
	"авто":             "",
	"другое":           "",
}

func canonicalSubject(subject string) string {
	return strings.Join(strings.Fields(strings.ToLower(subject)), " ")
}

// NormalizeSubject returns the index key for a subject name, or "" when the
// subject is unknown or deliberately unspecified.
func NormalizeSubject(subject string) string {
	return subjectAliases[canonicalSubject(subject)]
}

// CandidateKeys lists the subject keys to try in order: the alias target
// first, then the raw lowercased subject. Duplicates and empty keys drop.
func CandidateKeys(subject string) []string {
	raw := canonicalSubject(subject)
	if alias, ok := subjectAliases[raw]; ok && alias == "" {
		return nil
	}
	out := make([]string, 0, 2)
	for _, key := range []string{NormalizeSubject(subject), raw} {
		if key == "" || (len(out) > 0 && out[0] == key) {
			continue
		}
		out = append(out, key)
	}
	return out
}
