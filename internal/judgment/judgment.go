// Package judgment converts raw win/lose predictions into the judgment
// language a court order would use. The system is defendant/appellant
// focused: a predicted win means the appeal succeeds.
package judgment

import "strings"

const (
	FavorDefendant  = "Judgment in Favor of Defendant"
	FavorGovernment = "Judgment in Favor of Government"
	FavorPlaintiff  = "Judgment in Favor of Plaintiff"
)

// criminalKeywords flag a nature-of-suit string as criminal. Substring
// matching is deliberate so free-form text like "federal drug trafficking
// conspiracy" is caught without an exact taxonomy.
var criminalKeywords = []string{
	"criminal", "felony", "misdemeanor", "prosecution", "indictment",
	"homicide", "murder", "manslaughter", "assault", "battery",
	"robbery", "burglary", "theft", "larceny", "embezzlement",
	"drug", "narcotics", "trafficking", "controlled substance",
	"fraud", "wire fraud", "mail fraud", "bank fraud",
	"rape", "sexual assault", "sexual abuse", "molestation",
	"kidnapping", "abduction", "arson", "weapon", "firearm", "gun",
	"violence", "domestic violence", "dui", "dwi", "owi",
	"drunk driving", "driving under influence", "conspiracy",
	"racketeering", "rico", "money laundering", "bribery",
	"perjury", "obstruction", "escape", "prison", "jail",
	"parole", "probation", "sentencing", "conviction",
}

// Map returns the judgment language for a prediction. A win always favors
// the defendant regardless of case type; a loss favors the government in
// criminal matters and the plaintiff otherwise.
func Map(prediction, natureOfSuit string) string {
	if prediction == "win" {
		return FavorDefendant
	}
	if isCriminal(natureOfSuit) {
		return FavorGovernment
	}
	return FavorPlaintiff
}

func isCriminal(natureOfSuit string) bool {
	nature := strings.ToLower(strings.TrimSpace(natureOfSuit))
	if nature == "" {
		return false
	}
	for _, keyword := range criminalKeywords {
		if strings.Contains(nature, keyword) {
			return true
		}
	}
	return false
}
