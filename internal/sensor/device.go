package sensor

import (
	"context"
	"strconv"

	"github.com/jmerrifield20/hnap/pkg/hnap"
)

// Device exposes the informational actions common to HNAP devices.
type Device struct {
	client   Caller
	moduleID int
}

// NewDevice wraps client; moduleID is used by module-scoped actions.
func NewDevice(client Caller, moduleID int) *Device {
	return &Device{client: client, moduleID: moduleID}
}

func (d *Device) module() hnap.Param {
	return hnap.Param{Name: "ModuleID", Value: strconv.Itoa(d.moduleID)}
}

// Profile calls GetModuleProfile.
func (d *Device) Profile(ctx context.Context) (*hnap.Response, error) {
	return d.client.Call(ctx, "GetModuleProfile", hnap.Params{d.module()})
}

// SystemLogs returns up to maxCount entries of every tag.
func (d *Device) SystemLogs(ctx context.Context, maxCount int) (*hnap.Response, error) {
	if maxCount <= 0 {
		maxCount = 100
	}
	return d.client.Call(ctx, "GetSystemLogs", hnap.Params{
		{Name: "MaxCount", Value: strconv.Itoa(maxCount)},
		{Name: "Tag", Value: "All"},
		{Name: "PageOffset", Value: "1"},
		{Name: "StartTime", Value: "0"},
		{Name: "EndTime", Value: "All"},
	})
}

// FirmwareStatus calls GetFirmwareStatus.
func (d *Device) FirmwareStatus(ctx context.Context) (*hnap.Response, error) {
	return d.client.Call(ctx, "GetFirmwareStatus", nil)
}

// InternetStatus calls GetCurrentInternetStatus.
func (d *Device) InternetStatus(ctx context.Context) (*hnap.Response, error) {
	return d.client.Call(ctx, "GetCurrentInternetStatus", nil)
}

// InternetSettings calls GetInternetSettings.
func (d *Device) InternetSettings(ctx context.Context) (*hnap.Response, error) {
	return d.client.Call(ctx, "GetInternetSettings", nil)
}

// SoundPlay drives the siren module.
type SoundPlay struct {
	SoundType  string
	Volume     string
	Duration   string
	Controller string
}

// SoundPlay calls SetSoundPlay.
func (d *Device) SoundPlay(ctx context.Context, s SoundPlay) (*hnap.Response, error) {
	return d.client.Call(ctx, "SetSoundPlay", hnap.Params{
		d.module(),
		{Name: "SoundType", Value: s.SoundType},
		{Name: "Volume", Value: s.Volume},
		{Name: "Duration", Value: s.Duration},
		{Name: "Controller", Value: s.Controller},
	})
}
