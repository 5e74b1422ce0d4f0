package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"micscribe/internal/bootstrap"
	"micscribe/internal/config"
	"micscribe/internal/devices"
	"micscribe/internal/domain"
	"micscribe/internal/observability"
	"micscribe/internal/usecase"
)

const (
	eventSession    = "micscribe:session"
	eventTranscript = "micscribe:transcript"
	eventDevices    = "micscribe:devices"
	eventError      = "micscribe:error"
	eventNotice     = "micscribe:notice"
)

var errRecordingActive = errors.New("stop recording before changing the microphone")

// DeviceOption is a catalog entry as the device picker shows it.
type DeviceOption struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	GroupKey string `json:"groupKey"`
}

// App is the Wails application root.
type App struct {
	ctx    context.Context
	emit   func(ctx context.Context, name string, data ...interface{})
	logger zerolog.Logger

	controller *usecase.SessionController
	devices    *devices.Catalog
	cfg        config.Config
	bootErr    error
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit, logger: observability.GetLogger()}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.logger.Error().Err(err).Msg("startup failed")
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.cfg = services.Config
	a.controller = services.Controller
	a.devices = services.Devices

	if a.cfg.MetricsAddr != "" {
		observability.ServeMetrics(ctx, a.cfg.MetricsAddr, services.Registry, a.logger)
	}

	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
	go a.loadDevices(ctx)
}

func (a *App) shutdown(_ context.Context) {
	if a.controller == nil {
		return
	}
	if _, err := a.controller.Stop(a.ctx); err != nil && !errors.Is(err, usecase.ErrNoActiveSession) {
		a.logger.Warn().Err(err).Msg("stop on shutdown failed")
	}
	if err := a.devices.Release(); err != nil {
		a.logger.Warn().Err(err).Msg("release on shutdown failed")
	}
}

// loadDevices fills the picker once at startup and applies a preselected
// device. Labels may stay generic until the user grants access.
func (a *App) loadDevices(ctx context.Context) {
	if _, err := a.devices.Refresh(ctx, false); err != nil {
		return
	}
	if id := a.devices.Selected(); id != "" {
		_ = a.devices.SelectDevice(ctx, id)
	}
}

// Toggle starts recording when idle and stops it otherwise. visibleText is
// the transcript as currently shown, including manual edits.
func (a *App) Toggle(visibleText string) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Toggle(a.ctx, visibleText); err != nil && !errors.Is(err, usecase.ErrStartCanceled) {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// StartRecording starts a recording that appends to visibleText.
func (a *App) StartRecording(visibleText string) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Start(a.ctx, visibleText); err != nil {
		if errors.Is(err, usecase.ErrAlreadyRecording) || errors.Is(err, usecase.ErrStartCanceled) {
			return a.controller.Status(), nil
		}
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// StopRecording stops recording and returns the final transcript.
func (a *App) StopRecording() (domain.StopResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.StopResult{}, err
	}
	result, err := a.controller.Stop(a.ctx)
	if errors.Is(err, usecase.ErrNoActiveSession) {
		return domain.StopResult{Transcript: a.controller.Transcript()}, nil
	}
	return result, err
}

// RefreshDevices rebuilds the microphone list. With forcePermission the
// user is asked for microphone access first so real labels show up.
func (a *App) RefreshDevices(forcePermission bool) ([]DeviceOption, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	list, err := a.devices.Refresh(a.ctx, forcePermission)
	return deviceOptions(list), err
}

// SelectDevice pins the microphone used by the next recordings. An empty id
// selects the system default.
func (a *App) SelectDevice(id string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if a.controller.Status().Active {
		return errRecordingActive
	}
	return a.devices.SelectDevice(a.ctx, id)
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		status := domain.Status{State: domain.SessionStateIdle, Kind: domain.StatusKindReady}
		if a.bootErr != nil {
			status.Message = a.bootErr.Error()
		}
		return status
	}
	return a.controller.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"engine":           a.cfg.Engine,
		"model":            a.cfg.Deepgram.Model,
		"language":         a.cfg.Language,
		"audioInputFormat": a.cfg.Audio.InputFormat,
		"selectedDevice":   a.selectedDevice(),
	}
}

func (a *App) selectedDevice() string {
	if a.devices == nil {
		return ""
	}
	return a.devices.Selected()
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventSession, map[string]string{
		"state":   string(state),
		"kind":    string(domain.StatusKindFor(state)),
		"reason":  string(reason),
		"message": domain.ReasonMessage(reason),
	})
}

// TranscriptChanged emits the full visible transcript.
func (a *App) TranscriptChanged(text string) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventTranscript, map[string]string{"text": text})
}

// DevicesChanged emits the rebuilt microphone list.
func (a *App) DevicesChanged(list []domain.DeviceDescriptor) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventDevices, deviceOptions(list))
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": domain.ErrorMessage(code, detail),
		"detail":  detail,
	})
}

// Notice emits a transient status line.
func (a *App) Notice(text string) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventNotice, map[string]string{"message": text})
}

func deviceOptions(list []domain.DeviceDescriptor) []DeviceOption {
	options := make([]DeviceOption, 0, len(list))
	for i, device := range list {
		options = append(options, DeviceOption{
			ID:       device.ID,
			Label:    devices.DisplayLabel(device, i+1),
			GroupKey: device.GroupKey,
		})
	}
	return options
}
