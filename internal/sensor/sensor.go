// Package sensor wraps the HNAP actions of D-Link motion and water sensors.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmerrifield20/hnap/pkg/hnap"
)

// ErrNoDetection is returned when the device has no detection on record.
var ErrNoDetection = errors.New("no detection recorded")

// Caller is the subset of *hnap.Client the wrappers need.
type Caller interface {
	Call(ctx context.Context, action string, params hnap.Params) (*hnap.Response, error)
	ModuleActions(ctx context.Context, moduleID int) ([]string, error)
}

// module caches the SOAP actions of one module, probing once.
type module struct {
	client Caller
	id     int

	mu      sync.Mutex
	actions []string
}

func (m *module) moduleParam() hnap.Param {
	return hnap.Param{Name: "ModuleID", Value: strconv.Itoa(m.id)}
}

func (m *module) supports(ctx context.Context, action string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actions == nil {
		actions, err := m.client.ModuleActions(ctx, m.id)
		if err != nil {
			return false, fmt.Errorf("probe module %d actions: %w", m.id, err)
		}
		if actions == nil {
			actions = []string{}
		}
		m.actions = actions
	}
	return slices.Contains(m.actions, action), nil
}

// latestDetection calls GetLatestDetection.
func (m *module) latestDetection(ctx context.Context) (time.Time, error) {
	resp, err := m.client.Call(ctx, "GetLatestDetection", hnap.Params{m.moduleParam()})
	if err != nil {
		return time.Time{}, err
	}
	v, ok := resp.Body.Value("LatestDetectTime")
	if !ok {
		return time.Time{}, &hnap.MalformedResponseError{Action: "GetLatestDetection", Reason: "missing LatestDetectTime"}
	}
	return ParseTimestamp(v)
}

// ParseTimestamp converts device Unix seconds, possibly fractional.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	if f <= 0 {
		return time.Time{}, ErrNoDetection
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)), nil
}

// MotionSensor is a DCH-S150 style motion detector.
type MotionSensor struct {
	m *module
}

// NewMotionSensor wraps module moduleID of the device behind client.
func NewMotionSensor(client Caller, moduleID int) *MotionSensor {
	return &MotionSensor{m: &module{client: client, id: moduleID}}
}

// LatestTrigger returns when motion was last detected. Devices that lack
// GetLatestDetection are read through their detector log instead.
func (s *MotionSensor) LatestTrigger(ctx context.Context) (time.Time, error) {
	ok, err := s.m.supports(ctx, "GetLatestDetection")
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return s.m.latestDetection(ctx)
	}

	resp, err := s.m.client.Call(ctx, "GetMotionDetectorLogs", hnap.Params{
		s.m.moduleParam(),
		{Name: "MaxCount", Value: "1"},
		{Name: "PageOffset", Value: "1"},
		{Name: "StartTime", Value: "0"},
		{Name: "EndTime", Value: "All"},
	})
	if err != nil {
		return time.Time{}, err
	}
	list := resp.Body.Find("MotionDetectorLogList")
	if list == nil {
		return time.Time{}, &hnap.MalformedResponseError{Action: "GetMotionDetectorLogs", Reason: "missing MotionDetectorLogList"}
	}
	if len(list.Children) == 0 {
		return time.Time{}, ErrNoDetection
	}
	v, ok := list.Children[0].Value("TimeStamp")
	if !ok {
		return time.Time{}, &hnap.MalformedResponseError{Action: "GetMotionDetectorLogs", Reason: "missing TimeStamp"}
	}
	return ParseTimestamp(v)
}

// WaterSensor is a DCH-S160 style water leak detector.
type WaterSensor struct {
	m   *module
	now func() time.Time
}

// NewWaterSensor wraps module moduleID of the device behind client.
func NewWaterSensor(client Caller, moduleID int) *WaterSensor {
	return &WaterSensor{m: &module{client: client, id: moduleID}, now: time.Now}
}

// WaterDetected reports whether the sensor currently detects water.
func (s *WaterSensor) WaterDetected(ctx context.Context) (bool, error) {
	resp, err := s.m.client.Call(ctx, "GetWaterDetectorState", hnap.Params{s.m.moduleParam()})
	if err != nil {
		return false, err
	}
	v, ok := resp.Body.Value("IsWater")
	if !ok {
		return false, &hnap.MalformedResponseError{Action: "GetWaterDetectorState", Reason: "missing IsWater"}
	}
	return strings.EqualFold(v, "true"), nil
}

// LatestTrigger returns the last detection time. Without
// GetLatestDetection it reports now while water is present and
// ErrNoDetection otherwise.
func (s *WaterSensor) LatestTrigger(ctx context.Context) (time.Time, error) {
	ok, err := s.m.supports(ctx, "GetLatestDetection")
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return s.m.latestDetection(ctx)
	}
	wet, err := s.WaterDetected(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if !wet {
		return time.Time{}, ErrNoDetection
	}
	return s.now(), nil
}
