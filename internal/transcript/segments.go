package transcript

import "micscribe/internal/domain"

// Segments slices a cumulative result event at its low-water mark and
// splits the best alternative of each new entry into finals and interims.
// Entries before ResultIndex are never revisited.
func Segments(event domain.ResultEvent) (finals []string, interims []string) {
	start := event.ResultIndex
	if start < 0 {
		start = 0
	}

	for i := start; i < len(event.Results); i++ {
		result := event.Results[i]
		if len(result.Alternatives) == 0 {
			continue
		}
		text := result.Alternatives[0].Transcript
		if result.IsFinal {
			finals = append(finals, text)
		} else {
			interims = append(interims, text)
		}
	}

	return finals, interims
}
