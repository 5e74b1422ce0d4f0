package devices

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"micscribe/internal/domain"
)

// DefaultMicrophoneLabel names the synthesized entry used when the
// platform withholds all device information.
const DefaultMicrophoneLabel = "Default microphone"

var genericLabel = regexp.MustCompile(`(?i)^microphone\s+\d+$`)

// Build turns a raw enumeration into the catalog offered to the user:
// audio inputs only, de-duplicated, with a synthesized default entry when
// the single input is completely anonymous.
func Build(raw []domain.RawDevice) []domain.DeviceDescriptor {
	inputs := lo.Filter(raw, func(device domain.RawDevice, _ int) bool {
		return device.Kind == domain.DeviceKindAudioInput
	})

	if len(inputs) == 1 && isAnonymous(inputs[0]) {
		return []domain.DeviceDescriptor{{ID: "", Label: DefaultMicrophoneLabel, GroupKey: "default"}}
	}

	return Deduplicate(inputs)
}

// Deduplicate collapses entries sharing a group key (or, without one, an
// id). Within a group the first entry with a specific label wins; when no
// entry has one, or several do, the first seen is kept. Groups keep the
// order in which they were first seen.
func Deduplicate(raw []domain.RawDevice) []domain.DeviceDescriptor {
	order := make([]string, 0, len(raw))
	chosen := make(map[string]domain.RawDevice, len(raw))

	for _, device := range raw {
		key := device.GroupKey
		if key == "" {
			key = device.ID
		}

		current, seen := chosen[key]
		if !seen {
			order = append(order, key)
			chosen[key] = device
			continue
		}
		if !IsSpecificLabel(current.Label) && IsSpecificLabel(device.Label) {
			chosen[key] = device
		}
	}

	out := make([]domain.DeviceDescriptor, 0, len(order))
	for _, key := range order {
		device := chosen[key]
		out = append(out, domain.DeviceDescriptor{
			ID:       device.ID,
			Label:    device.Label,
			GroupKey: key,
		})
	}
	return out
}

// IsSpecificLabel reports whether a label is non-empty and not of the
// auto-generated "Microphone N" form.
func IsSpecificLabel(label string) bool {
	trimmed := strings.TrimSpace(label)
	return trimmed != "" && !genericLabel.MatchString(trimmed)
}

// DisplayLabel renders a descriptor for a selection list. position is the
// 1-based place of the descriptor in the catalog.
func DisplayLabel(device domain.DeviceDescriptor, position int) string {
	if IsSpecificLabel(device.Label) && !strings.Contains(strings.ToLower(device.Label), "default") {
		return device.Label
	}
	if device.ID == "" {
		return DefaultMicrophoneLabel
	}

	short := device.ID
	if len(short) > 8 {
		short = short[:8]
	}
	if strings.Contains(device.ID, "default") || position == 1 {
		return fmt.Sprintf("%s (%s...)", DefaultMicrophoneLabel, short)
	}
	return fmt.Sprintf("Microphone %d (%s...)", position, short)
}

func isAnonymous(device domain.RawDevice) bool {
	return device.ID == "" && strings.TrimSpace(device.Label) == ""
}
