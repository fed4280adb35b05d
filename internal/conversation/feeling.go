package conversation

// Feelings is the fixed vocabulary of the feeling picker, happiest first.
var Feelings = []string{"Very Happy", "Happy", "Neutral", "Sad", "Very Sad"}

var feelingEmoji = map[string]string{
	"Very Happy": "😄",
	"Happy":      "🙂",
	"Neutral":    "😐",
	"Sad":        "🙁",
	"Very Sad":   "😢",
}

// IsFeeling reports whether label belongs to the vocabulary.
func IsFeeling(label string) bool {
	_, ok := feelingEmoji[label]
	return ok
}

// FeelingEmoji returns the face shown next to a feeling label.
func FeelingEmoji(label string) string {
	return feelingEmoji[label]
}
