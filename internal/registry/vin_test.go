package registry

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/DevMantelis/autominus/internal/captcha"
)

type fakeSolver struct {
	token string
	calls atomic.Int32
}

func (s *fakeSolver) Solve(_ context.Context, _ captcha.TaskRequest) string {
	s.calls.Add(1)
	return s.token
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestResolver(backendURL string, solver Solver) *VINResolver {
	return NewVINResolver(VINResolverConfig{
		PageURL:    "https://www.eregitra.lt/search",
		SiteKey:    "site-key",
		BackendURL: backendURL,
		Action:     "vehicleSearchByOdCode",
		MinScore:   0.9,
	}, solver, testLogger(), nil)
}

func TestResolveSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload vinLookupPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.OwnerDeclCode != "ACEFHKMN" {
			t.Errorf("unexpected sdk %q", payload.OwnerDeclCode)
		}
		if payload.GoogleRecaptchaToken != "tok" {
			t.Errorf("unexpected token %q", payload.GoogleRecaptchaToken)
		}
		json.NewEncoder(w).Encode(map[string]string{"vehicleVin": "WVWZZZ3CZLE123456"})
	}))
	defer srv.Close()

	r := newTestResolver(srv.URL, &fakeSolver{token: "tok"})
	vin, sdkValid := r.Resolve(context.Background(), "ACEFHKMN")
	if vin != "WVWZZZ3CZLE123456" {
		t.Errorf("unexpected vin %q", vin)
	}
	if !sdkValid {
		t.Error("expected sdk to be valid")
	}
}

func TestResolveMalformedSDK(t *testing.T) {
	solver := &fakeSolver{token: "tok"}
	r := newTestResolver("http://unused.invalid", solver)

	vin, sdkValid := r.Resolve(context.Background(), "NOTVALID")
	if vin != "" || sdkValid {
		t.Errorf("malformed sdk should be rejected locally, got (%q, %v)", vin, sdkValid)
	}
	if solver.calls.Load() != 0 {
		t.Error("no captcha should be solved for a malformed sdk")
	}
}

func TestResolveDeclarationNotFoundIsTerminal(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"message": "Actual declaration not found"})
	}))
	defer srv.Close()

	r := newTestResolver(srv.URL, &fakeSolver{token: "tok"})
	vin, sdkValid := r.Resolve(context.Background(), "ACEFHKMN")
	if vin != "" || sdkValid {
		t.Errorf("expected terminal negative, got (%q, %v)", vin, sdkValid)
	}
	// 终态错误不重试
	if got := requests.Load(); got != 1 {
		t.Errorf("expected 1 request, got %d", got)
	}
}

func TestResolveInvalidCaptchaRetries(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			json.NewEncoder(w).Encode(map[string]string{"message": "INVALID_RECAPTCHA"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"vehicleVin": "WVWZZZ3CZLE123456"})
	}))
	defer srv.Close()

	r := newTestResolver(srv.URL, &fakeSolver{token: "tok"})
	vin, sdkValid := r.Resolve(context.Background(), "ACEFHKMN")
	if vin != "WVWZZZ3CZLE123456" || !sdkValid {
		t.Errorf("expected success on third attempt, got (%q, %v)", vin, sdkValid)
	}
	if got := requests.Load(); got != 3 {
		t.Errorf("expected 3 requests, got %d", got)
	}
}

func TestResolveGivesUpAfterRetries(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"message": "INVALID_RECAPTCHA"})
	}))
	defer srv.Close()

	r := newTestResolver(srv.URL, &fakeSolver{token: "tok"})
	vin, sdkValid := r.Resolve(context.Background(), "ACEFHKMN")
	if vin != "" {
		t.Errorf("expected empty vin, got %q", vin)
	}
	// 反查失败不代表申报单无效
	if !sdkValid {
		t.Error("sdk should remain valid after transient failures")
	}
	if got := requests.Load(); got != vinResolveRetries {
		t.Errorf("expected %d requests, got %d", vinResolveRetries, got)
	}
}

func TestResolveRejectsMalformedVIN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"vehicleVin": "TOO-SHORT"})
	}))
	defer srv.Close()

	r := newTestResolver(srv.URL, &fakeSolver{token: "tok"})
	vin, sdkValid := r.Resolve(context.Background(), "ACEFHKMN")
	if vin != "" {
		t.Errorf("malformed vin should be discarded, got %q", vin)
	}
	if !sdkValid {
		t.Error("sdk should remain valid")
	}
}
