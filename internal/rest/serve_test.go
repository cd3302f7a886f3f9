// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package rest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mlnoga/mrdenoise/internal/fits"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter()
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

// Changes into a fresh temporary directory holding a noisy test image
func enterWorkDir(t *testing.T) func() {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	data := make([]float32, 32*32)
	for i := range data {
		data[i] = float32(20 + (i*37)%11)
		if i%32 >= 16 {
			data[i] += 100
		}
	}
	img := fits.NewImageFromNaxisn([]int32{32, 32}, data)
	img.Sigma = 25
	if err := img.WriteFile("noisy.fits"); err != nil {
		t.Fatal(err)
	}
	return func() { os.Chdir(wd) }
}

func TestPingAndIndex(t *testing.T) {
	r := newTestRouter()
	w := do(r, http.MethodGet, "/api/v1/ping", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pong") {
		t.Errorf("ping: %d %q; want 200 pong", w.Code, w.Body.String())
	}
	w = do(r, http.MethodGet, "/", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/api/v1/denoise") {
		t.Errorf("index: %d; want 200 with form posting to the API", w.Code)
	}
}

func TestBadRequests(t *testing.T) {
	r := newTestRouter()
	for _, tc := range []struct{ path, body string }{
		{"/api/v1/denoise", "{not json"},
		{"/api/v1/denoise", `{"pipeline":{"type":"seq","steps":[{"type":"noSuchOperator"}]}}`},
		{"/api/v1/denoise", `{"filePatterns":["*.fits"]}`},
		{"/api/v1/stats", `{"filePatterns":[]}`},
	} {
		w := do(r, http.MethodPost, tc.path, tc.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s %s: status %d; want 400", tc.path, tc.body, w.Code)
		}
	}
}

func TestStats(t *testing.T) {
	defer enterWorkDir(t)()
	r := newTestRouter()
	w := do(r, http.MethodPost, "/api/v1/stats", `{"filePatterns":["*.fits"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d; want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "Loaded") || !strings.Contains(body, "noisy.fits") {
		t.Errorf("body lacks load message:\n%s", body)
	}
}

func TestDenoise(t *testing.T) {
	defer enterWorkDir(t)()
	r := newTestRouter()
	body := `{"filePatterns":["noisy.fits"],"pipeline":{"type":"seq","steps":[
		{"type":"denoise","iterations":3,"logEvery":1},
		{"type":"biasCorrect"},
		{"type":"save","filePattern":"out_%d.fits"}
	]}}`
	w := do(r, http.MethodPost, "/api/v1/denoise", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d; want 200", w.Code)
	}
	log := w.Body.String()
	for _, want := range []string{"0: Iteration 3/3", "Denoised", "Bias corrected", "Done."} {
		if !strings.Contains(log, want) {
			t.Errorf("log lacks %q:\n%s", want, log)
		}
	}
	if _, err := os.Stat("out_0.fits"); err != nil {
		t.Errorf("missing output: %v", err)
	}

	// pipeline errors are reported in the log
	w = do(r, http.MethodPost, "/api/v1/denoise", `{"filePatterns":["noisy.fits"],"pipeline":{"type":"seq","steps":[{"type":"biasCorrect"}]}}`)
	if !strings.Contains(w.Body.String(), "error:") {
		t.Errorf("log lacks error:\n%s", w.Body.String())
	}
}

func TestDenoiseSaveOutsideTree(t *testing.T) {
	defer enterWorkDir(t)()
	r := newTestRouter()
	outside := filepath.Join(t.TempDir(), "escape.fits")
	for _, name := range []string{outside, "../escape.fits"} {
		body := fmt.Sprintf(`{"filePatterns":["noisy.fits"],"pipeline":{"type":"seq","steps":[{"type":"save","filePattern":%q}]}}`, name)
		w := do(r, http.MethodPost, "/api/v1/denoise", body)
		if !strings.Contains(w.Body.String(), "error:") {
			t.Errorf("save to %s: log lacks error:\n%s", name, w.Body.String())
		}
	}
	if _, err := os.Stat(outside); !os.IsNotExist(err) {
		t.Errorf("file written outside tree: %v", err)
	}
}
