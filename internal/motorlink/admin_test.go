package motorlink

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/banshee-data/gridrover/internal/testutil"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "C 100 -100", want: "C[100 -100 0 0]"},
		{in: "D 1 2 3 4", want: "D[1 2 3 4]"},
		{in: "G90", want: "G[90 0 0 0]"},
		{in: "M 500 -500", want: "M[500 -500]"},
		{in: "I1", want: "I1"},
		{in: "s", want: "s"},
		{in: "", wantErr: true},
		{in: "C 1 2 3 4 5", wantErr: true},
		{in: "C 40000", wantErr: true},
		{in: "M x", wantErr: true},
		{in: "I2", wantErr: true},
		{in: "A22", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCommand(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseCommand(%q) = %s, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand(%q) error = %v", tt.in, err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseCommand(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestAttachAdminRoutes_SendCommandAPI(t *testing.T) {
	l, port, _ := newTestLink(t)
	httpMux := http.NewServeMux()
	l.AttachAdminRoutes(httpMux)

	tests := []struct {
		name           string
		method         string
		formData       url.Values
		queue          string
		expectedStatus int
		bodyContains   string
	}{
		{
			name:           "drive",
			method:         http.MethodPost,
			formData:       url.Values{"command": {"C 10 10"}},
			expectedStatus: http.StatusOK,
			bodyContains:   `reply "OK"`,
		},
		{
			name:           "malformed",
			method:         http.MethodPost,
			formData:       url.Values{"command": {"C nope"}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "obstacle",
			method:         http.MethodPost,
			formData:       url.Values{"command": {"C 10 10"}},
			queue:          "OB\r\n",
			expectedStatus: http.StatusBadGateway,
			bodyContains:   "obstacle",
		},
		{
			name:           "GET not allowed",
			method:         http.MethodGet,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.queue != "" {
				port.Queue(OpDrive, tt.queue)
			}
			req := testutil.NewLoopbackRequest(tt.method, "/debug/send-command-api", strings.NewReader(tt.formData.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := testutil.Serve(httpMux, req)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tt.expectedStatus, rec.Body.String())
			}
			if tt.bodyContains != "" && !strings.Contains(rec.Body.String(), tt.bodyContains) {
				t.Errorf("body %q does not contain %q", rec.Body.String(), tt.bodyContains)
			}
		})
	}
}

func TestAttachAdminRoutes_LinkStats(t *testing.T) {
	l, _, _ := newTestLink(t)
	httpMux := http.NewServeMux()
	l.AttachAdminRoutes(httpMux)

	if err := l.SendMotion(OpDrive, 0, 0, 0, 0); err != nil {
		t.Fatal(err)
	}

	rec := testutil.Get(httpMux, "/debug/link")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var s Stats
	testutil.DecodeJSON(t, rec, &s)
	if !s.Connected || s.Acks != 1 {
		t.Errorf("stats = %+v, want connected with one ack", s)
	}
}
