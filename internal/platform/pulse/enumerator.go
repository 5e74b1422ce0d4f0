// Package pulse lists PulseAudio / PipeWire sources through pactl.
package pulse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/rs/zerolog"

	"micscribe/internal/domain"
)

// DefaultCommand prints every source as a JSON array.
const DefaultCommand = "pactl --format=json list sources"

// Enumerator implements ports.DeviceEnumerator on top of a command that
// prints pactl's JSON source list.
type Enumerator struct {
	cmd    []string
	logger zerolog.Logger
}

func NewEnumerator(command string, logger zerolog.Logger) (*Enumerator, error) {
	if strings.TrimSpace(command) == "" {
		command = DefaultCommand
	}
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse device command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("device command is empty")
	}
	return &Enumerator{
		cmd:    args,
		logger: logger.With().Str("component", "pulse").Logger(),
	}, nil
}

type source struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	MonitorOf   string            `json:"monitor_of_sink"`
	Properties  map[string]string `json:"properties"`
}

// Enumerate runs the command and maps every source to a raw device.
func (e *Enumerator) Enumerate(ctx context.Context) ([]domain.RawDevice, error) {
	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("device command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	devices, err := Parse(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	e.logger.Debug().Int("sources", len(devices)).Msg("sources listed")
	return devices, nil
}

// Parse decodes pactl JSON output. Monitor sources are reported as outputs
// so they never show up as microphones.
func Parse(data []byte) ([]domain.RawDevice, error) {
	var sources []source
	if err := json.Unmarshal(bytes.TrimSpace(data), &sources); err != nil {
		return nil, fmt.Errorf("decode source list: %w", err)
	}

	devices := make([]domain.RawDevice, 0, len(sources))
	for _, src := range sources {
		kind := domain.DeviceKindAudioInput
		if isMonitor(src) {
			kind = domain.DeviceKindAudioOutput
		}
		devices = append(devices, domain.RawDevice{
			ID:       src.Name,
			Label:    strings.TrimSpace(src.Description),
			GroupKey: groupKey(src),
			Kind:     kind,
		})
	}
	return devices, nil
}

func isMonitor(src source) bool {
	if src.MonitorOf != "" && src.MonitorOf != "n/a" {
		return true
	}
	if src.Properties["device.class"] == "monitor" {
		return true
	}
	return strings.HasSuffix(src.Name, ".monitor")
}

// groupKey identifies the logical input behind a source. Profiles of one
// PCM device share it; separate PCM devices on one card (a digital mic next
// to a headset jack) do not.
func groupKey(src source) string {
	base := src.Properties["device.bus_path"]
	if base == "" {
		if card := src.Properties["alsa.card"]; card != "" {
			base = "alsa-card-" + card
		}
	}
	if base == "" {
		return ""
	}
	if pcm := src.Properties["alsa.device"]; pcm != "" {
		return base + "/pcm-" + pcm
	}
	return base
}
