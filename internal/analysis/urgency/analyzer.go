package urgency

import (
	"sort"
	"strings"
)

// Level is how urgent the patient's description is.
type Level string

const (
	None   Level = "none"
	Watch  Level = "watch"
	Urgent Level = "urgent"
)

// Category is the symptom group a keyword belongs to.
type Category string

const (
	Breathing Category = "breathing"
	ChestPain Category = "chest_pain"
	Bleeding  Category = "bleeding"
	HighFever Category = "high_fever"
	Confusion Category = "confusion"
	Dehydrate Category = "dehydration"
)

// Assessment carries the level, the score and the matched categories.
type Assessment struct {
	Level      Level
	Score      int
	Categories []Category
}

// A red-flag term makes the text urgent; watch terms alone only raise concern.
var redFlags = map[Category][]string{
	Breathing: {
		"can't breathe", "cannot breathe", "can not breathe", "struggling to breathe", "gasping",
		"short of breath at rest", "lips turning blue", "choking",
	},
	ChestPain: {
		"chest pain", "chest pressure", "crushing pain", "heart attack", "pain in my chest",
	},
	Bleeding: {
		"bleeding heavily", "won't stop bleeding", "wont stop bleeding", "vomiting blood", "coughing up blood",
		"blood in my stool", "black stool", "passing blood",
	},
	HighFever: {
		"fever of 104", "fever of 103", "104 degrees", "103 degrees", "40 degrees", "shaking chills",
	},
	Confusion: {
		"passed out", "fainted", "unconscious", "seizure", "can't stay awake", "very confused",
	},
}

var watchWords = map[Category][]string{
	Breathing: {"short of breath", "shortness of breath", "wheezing", "breathless"},
	HighFever: {"fever", "chills", "temperature"},
	Bleeding:  {"bleeding", "bruising", "nosebleed"},
	Dehydrate: {"can't keep anything down", "cannot keep fluids", "haven't peed", "dizzy", "lightheaded"},
	Confusion: {"confused", "disoriented"},
}

const (
	redFlagWeight = 5
	watchWeight   = 2
	urgentScore   = 5
)

// Analyze decides whether the text calls for immediate care.
func Analyze(text string) Assessment {
	normalized := normalize(text)
	if normalized == "" {
		return Assessment{Level: None}
	}

	scores := make(map[Category]int)
	for category, phrases := range redFlags {
		for _, phrase := range phrases {
			if strings.Contains(normalized, phrase) {
				scores[category] += redFlagWeight
			}
		}
	}
	for category, phrases := range watchWords {
		for _, phrase := range phrases {
			if strings.Contains(normalized, phrase) {
				scores[category] += watchWeight
			}
		}
	}

	total := 0
	categories := make([]Category, 0, len(scores))
	for category, score := range scores {
		total += score
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	if total == 0 {
		return Assessment{Level: None}
	}

	level := Watch
	for _, category := range categories {
		if scores[category] >= urgentScore {
			level = Urgent
			break
		}
	}

	return Assessment{Level: level, Score: total, Categories: categories}
}

// Case and curly apostrophes are folded, so "can’t" matches "can't".
func normalize(text string) string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	return strings.NewReplacer("’", "'", "‘", "'").Replace(lowered)
}
