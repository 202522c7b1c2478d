package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if out.Counter != nil {
		return out.GetCounter().GetValue()
	}
	return out.GetGauge().GetValue()
}

func TestRecordCall(t *testing.T) {
	before := value(t, hnapCallsTotal.WithLabelValues("GetX", "ok"))
	RecordCall("GetX", "ok")
	if got := value(t, hnapCallsTotal.WithLabelValues("GetX", "ok")); got != before+1 {
		t.Errorf("hnap_calls_total: got %v, want %v", got, before+1)
	}
}

func TestSetSensorOn(t *testing.T) {
	SetSensorOn("hall", true)
	if got := value(t, hnapSensorOn.WithLabelValues("hall")); got != 1 {
		t.Errorf("on: got %v", got)
	}
	SetSensorOn("hall", false)
	if got := value(t, hnapSensorOn.WithLabelValues("hall")); got != 0 {
		t.Errorf("off: got %v", got)
	}
}

func TestRecordLoginAndPoll(t *testing.T) {
	RecordLogin(false)
	if got := value(t, hnapLoginsTotal.WithLabelValues("failure")); got < 1 {
		t.Errorf("failure logins: got %v", got)
	}
	RecordPoll("hall", true)
	if got := value(t, hnapPollsTotal.WithLabelValues("hall", "success")); got < 1 {
		t.Errorf("successful polls: got %v", got)
	}
	RecordReauth("GetX")
	if got := value(t, hnapReauthTotal.WithLabelValues("GetX")); got < 1 {
		t.Errorf("reauths: got %v", got)
	}
}
