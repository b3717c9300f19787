package convo

import "strings"

// splitEmotions turns a free-form comma or slash separated answer into a
// cleaned list.
func splitEmotions(answer string) []string {
	fields := strings.FieldsFunc(answer, func(r rune) bool {
		return r == ',' || r == ';' || r == '/'
	})
	var emotions []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			emotions = append(emotions, f)
		}
	}
	return emotions
}
