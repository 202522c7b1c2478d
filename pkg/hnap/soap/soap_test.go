package soap_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/hnap/pkg/hnap"
	"github.com/jmerrifield20/hnap/pkg/hnap/soap"
	"go.uber.org/zap"
)

// ── Stub device server ──────────────────────────────────────────────────

const (
	devChallenge = "C4ALL3NGE"
	devPublicKey = "PUBK3Y"
	devCookie    = "SESSION1"
	devPIN       = "123456"
)

// device is a minimal HNAP endpoint: two-stage login, signed requests,
// and a switch to expire the session.
type device struct {
	mu       sync.Mutex
	loggedIn bool
	hits     map[string]int
	html     bool
}

func (d *device) privateKey() string { return hnap.PrivateKey(devPublicKey, devPIN, devChallenge) }

func envelope(inner string) string {
	return `<?xml version="1.0" encoding="utf-8"?>` +
		`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<soap:Body>` + inner + `</soap:Body></soap:Envelope>`
}

func (d *device) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	raw, _ := io.ReadAll(r.Body)
	req, err := soap.Decode("request", "text/xml", raw)
	if err != nil || !req.SOAP {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	action := req.Body.Name
	d.hits[action]++

	if want := `"` + hnap.ActionBaseURL + action + `"`; r.Header.Get("SOAPAction") != want {
		http.Error(w, "bad SOAPAction", http.StatusBadRequest)
		return
	}

	if action == hnap.ActionLogin {
		mode, _ := req.Body.Value("Action")
		if mode == "request" {
			fmt.Fprint(w, envelope(`<LoginResponse xmlns="http://purenetworks.com/HNAP1/">`+
				`<LoginResult>OK</LoginResult><Challenge>`+devChallenge+`</Challenge>`+
				`<Cookie>`+devCookie+`</Cookie><PublicKey>`+devPublicKey+`</PublicKey></LoginResponse>`))
			return
		}
		pw, _ := req.Body.Value("LoginPassword")
		result := "failed"
		if pw == hnap.LoginPassword(d.privateKey(), devChallenge) && r.Header.Get("Cookie") == "uid="+devCookie {
			result = "success"
			d.loggedIn = true
		}
		fmt.Fprint(w, envelope(`<LoginResponse><LoginResult>`+result+`</LoginResult></LoginResponse>`))
		return
	}

	if !d.loggedIn || !d.validAuth(r.Header.Get("HNAP_AUTH"), action) {
		if d.html {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><body>Unauthorized</body></html>")
			return
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch action {
	case hnap.ActionGetDeviceSettings:
		fmt.Fprint(w, envelope(`<GetDeviceSettingsResponse><GetDeviceSettingsResult>OK</GetDeviceSettingsResult>`+
			`<SOAPActions><string>http://purenetworks.com/HNAP1/GetLatestDetection</string>`+
			`<string>http://purenetworks.com/HNAP1/GetModuleSOAPActions</string></SOAPActions>`+
			`</GetDeviceSettingsResponse>`))
	case "GetLatestDetection":
		fmt.Fprint(w, envelope(`<GetLatestDetectionResponse><GetLatestDetectionResult>OK</GetLatestDetectionResult>`+
			`<LatestDetectTime>1700000000</LatestDetectTime></GetLatestDetectionResponse>`))
	default:
		http.Error(w, "unknown action", http.StatusInternalServerError)
	}
}

func (d *device) validAuth(header, action string) bool {
	token, ts, ok := strings.Cut(header, " ")
	if !ok {
		return false
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	return token == hnap.NewPerCallAuth(d.privateKey(), hnap.ActionBaseURL, action, time.Unix(sec, 0)).Token
}

func (d *device) count(action string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hits[action]
}

func (d *device) expire() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loggedIn = false
}

func newDevice(t *testing.T) (*device, *httptest.Server) {
	t.Helper()
	d := &device{hits: map[string]int{}}
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)
	return d, srv
}

// ── Transport ───────────────────────────────────────────────────────────

func TestInvoke_envelopeShape(t *testing.T) {
	var gotBody, gotAction, gotType, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotAction = r.Header.Get("SOAPAction")
		gotType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("HNAP_AUTH")
		fmt.Fprint(w, envelope(`<SetSoundPlayResponse><SetSoundPlayResult>OK</SetSoundPlayResult></SetSoundPlayResponse>`))
	}))
	defer srv.Close()

	tr := soap.New(srv.URL)
	resp, err := tr.Invoke(context.Background(), "SetSoundPlay", hnap.Params{
		{Name: "ModuleID", Value: "1"},
		{Name: "SoundType", Value: "<1&2>"},
	}, hnap.Headers{"HNAP_AUTH": "TOKEN 1"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !resp.SOAP || resp.Result() != "OK" {
		t.Errorf("unexpected response %+v", resp)
	}

	if strings.Contains(gotBody, "Header") {
		t.Error("envelope must not contain a soap:Header element")
	}
	if !strings.Contains(gotBody, `<SetSoundPlay xmlns="http://purenetworks.com/HNAP1/"><ModuleID>1</ModuleID><SoundType>&lt;1&amp;2&gt;</SoundType></SetSoundPlay>`) {
		t.Errorf("unexpected body: %s", gotBody)
	}
	if gotAction != `"http://purenetworks.com/HNAP1/SetSoundPlay"` {
		t.Errorf("SOAPAction: got %q", gotAction)
	}
	if !strings.HasPrefix(gotType, "text/xml") {
		t.Errorf("Content-Type: got %q", gotType)
	}
	if gotAuth != "TOKEN 1" {
		t.Errorf("HNAP_AUTH: got %q", gotAuth)
	}
}

func TestInvoke_rejectsBadParamName(t *testing.T) {
	tr := soap.New("192.0.2.1")
	_, err := tr.Invoke(context.Background(), "GetX", hnap.Params{{Name: "a b", Value: "1"}}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestInvoke_httpErrorIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := soap.New(srv.URL).Invoke(context.Background(), "GetX", nil, nil)
	var te *hnap.TransportError
	if !errors.As(err, &te) || te.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected TransportError 500, got %v", err)
	}
}

func TestInvoke_timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := soap.New(srv.URL, soap.WithTimeout(20*time.Millisecond)).Invoke(context.Background(), "GetX", nil, nil)
	var te *hnap.TransportError
	if !errors.As(err, &te) || !te.Timeout {
		t.Fatalf("expected timeout TransportError, got %v", err)
	}
}

func TestNew_endpoint(t *testing.T) {
	cases := []struct {
		addr string
		opts []soap.Option
		want string
	}{
		{"192.168.0.20", nil, "http://192.168.0.20/HNAP1"},
		{"192.168.0.20:8080", nil, "http://192.168.0.20:8080/HNAP1"},
		{"192.168.0.20", []soap.Option{soap.WithHTTPS()}, "https://192.168.0.20/HNAP1"},
		{"http://127.0.0.1:1234/", nil, "http://127.0.0.1:1234"},
	}
	for _, tc := range cases {
		if got := soap.New(tc.addr, tc.opts...).Endpoint(); got != tc.want {
			t.Errorf("New(%q): got %q, want %q", tc.addr, got, tc.want)
		}
	}
}

// ── Decode ──────────────────────────────────────────────────────────────

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		ctype     string
		body      string
		wantSOAP  bool
		wantError bool
	}{
		{"envelope", "text/xml", envelope(`<GetXResponse><GetXResult>OK</GetXResult></GetXResponse>`), true, false},
		{"html by content type", "text/html", `<p>login</p>`, false, false},
		{"html by sniff", "", "  <!DOCTYPE html><html></html>", false, false},
		{"plain xml document", "text/xml", `<status>ok</status>`, false, false},
		{"broken xml", "text/xml", `<soap:Envelope><soap:Body>`, false, true},
		{"no body", "text/xml", `<Envelope><Header/></Envelope>`, false, true},
		{"empty body", "text/xml", envelope(``), false, true},
		{"fault", "text/xml", envelope(`<soap:Fault><faultstring>denied</faultstring></soap:Fault>`), false, true},
		{"empty", "text/xml", ``, false, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := soap.Decode("GetX", tc.ctype, []byte(tc.body))
			if tc.wantError {
				var me *hnap.MalformedResponseError
				if !errors.As(err, &me) {
					t.Fatalf("expected MalformedResponseError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if resp.SOAP != tc.wantSOAP {
				t.Errorf("SOAP: got %v, want %v", resp.SOAP, tc.wantSOAP)
			}
		})
	}
}

func TestDecode_bodyIsActionResponse(t *testing.T) {
	resp, err := soap.Decode(hnap.ActionLogin, "text/xml", []byte(envelope(
		`<LoginResponse xmlns="http://purenetworks.com/HNAP1/"><Challenge>c</Challenge></LoginResponse>`)))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if resp.Body.Name != "LoginResponse" {
		t.Errorf("Body: got %q", resp.Body.Name)
	}
	if v, _ := resp.Body.Value("Challenge"); v != "c" {
		t.Errorf("Challenge: got %q", v)
	}
}

// ── End to end with the session client ──────────────────────────────────

func TestClient_againstDevice(t *testing.T) {
	d, srv := newDevice(t)
	c := hnap.MustNew(soap.New(srv.URL, soap.WithLogger(zap.NewNop())),
		hnap.Credentials{Address: srv.URL, Password: devPIN})

	resp, err := c.Call(context.Background(), "GetLatestDetection", hnap.Params{{Name: "ModuleID", Value: "1"}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if v, _ := resp.Body.Value("LatestDetectTime"); v != "1700000000" {
		t.Errorf("LatestDetectTime: got %q", v)
	}
	actions, err := c.DeviceActions(context.Background())
	if err != nil {
		t.Fatalf("DeviceActions: %v", err)
	}
	if len(actions) != 2 || actions[0] != "GetLatestDetection" {
		t.Errorf("actions: got %v", actions)
	}
	if d.count(hnap.ActionGetDeviceSettings) != 1 {
		t.Errorf("GetDeviceSettings hits: got %d", d.count(hnap.ActionGetDeviceSettings))
	}
}

func TestClient_recoversFromExpiredSession(t *testing.T) {
	d, srv := newDevice(t)
	c := hnap.MustNew(soap.New(srv.URL), hnap.Credentials{Address: srv.URL, Password: devPIN})
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}

	d.expire()

	if _, err := c.Call(context.Background(), "GetLatestDetection", nil); err != nil {
		t.Fatalf("Call after expiry: %v", err)
	}
	if n := d.count("GetLatestDetection"); n != 2 {
		t.Errorf("GetLatestDetection hits: got %d, want 2", n)
	}
}

func TestClient_htmlUnauthorizedAccepted(t *testing.T) {
	d, srv := newDevice(t)
	d.html = true
	c := hnap.MustNew(soap.New(srv.URL), hnap.Credentials{Address: srv.URL, Password: devPIN})
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	d.expire()

	resp, err := c.Call(context.Background(), "GetLatestDetection", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.SOAP {
		t.Error("expected the HTML page to be returned as a plain document")
	}
}

func TestClient_wrongPIN(t *testing.T) {
	_, srv := newDevice(t)
	c := hnap.MustNew(soap.New(srv.URL), hnap.Credentials{Address: srv.URL, Password: "000000"})

	err := c.Login(context.Background())
	if !errors.Is(err, hnap.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}
