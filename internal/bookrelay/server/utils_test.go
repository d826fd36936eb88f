package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookrelay/bookrelay/internal/bookrelay/challenge"
	"github.com/bookrelay/bookrelay/internal/bookrelay/config"
	"github.com/bookrelay/bookrelay/internal/bookrelay/metrics"
	"github.com/bookrelay/bookrelay/internal/bookrelay/orchestrator"
	"github.com/bookrelay/bookrelay/internal/bookrelay/provider"
	"github.com/bookrelay/bookrelay/internal/bookrelay/relaycommon"
	"github.com/bookrelay/bookrelay/internal/bookrelay/sessionstore"
	"github.com/bookrelay/bookrelay/internal/bookrelay/worker"
	"github.com/bookrelay/bookrelay/internal/common/middleware"
)

const testAnswer = "x7Kp2"

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

type fixedGenerator struct{}

func (fixedGenerator) Generate() ([]byte, string, error) {
	return pngHeader, testAnswer, nil
}

func ticketProvider() provider.Provider {
	return provider.Func(func(ctx context.Context, req provider.Request) (*provider.Result, error) {
		return &provider.Result{
			Status: provider.StatusSuccess,
			Ticket: &relaycommon.Ticket{PNR: "4512345678", Status: "CNF"},
		}, nil
	})
}

func newTestServer(t *testing.T, p provider.Provider) *BookingServer {
	t.Helper()
	config.TestInit(t)

	artifacts, err := challenge.NewArtifactStore(config.Config().Challenge.ArtifactDir)
	require.NoError(t, err)
	sup := worker.NewInProcess(p, worker.InProcessOptions{TerminateGrace: "2s"})
	orch := orchestrator.New(sessionstore.New(), fixedGenerator{}, artifacts, sup,
		orchestrator.Options{TTL: time.Minute})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, orch.Shutdown(ctx))
	})

	s, err := CreateNewServer(orch, metrics.New(prometheus.NewRegistry()))
	require.NoError(t, err)
	s.MountHandlers()
	return s
}

func executeTestRequest(t *testing.T, s *BookingServer, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)
	return rr
}

func newJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var r io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(v)
	default:
		b, err := json.Marshal(v)
		require.NoError(t, err)
		r = bytes.NewBuffer(b)
	}
	req, err := http.NewRequest(method, path, r)
	require.NoError(t, err)
	if r != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func checkHeader(t *testing.T, h http.Header) {
	t.Helper()
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.NotEmpty(t, h.Get(middleware.RequestIDHeader), "no request id")
}

func compareJson(t *testing.T, expected string, actual string) {
	t.Helper()
	assert.JSONEq(t, expected, actual, "Expected: %v\nGot: %v\n", expected, actual)
}

const bookingBody = `{
	"train": "12127",
	"from": "TNA",
	"to": "PUNE",
	"class": "2S",
	"quota": "GN",
	"date": "20250219",
	"passengers": [{"age": 20, "name": "Abhinav S", "gender": "M"}]
}`
