package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/drawing-extractor/internal/classify"
	"github.com/spherical/drawing-extractor/internal/domain"
	"github.com/spherical/drawing-extractor/internal/observability"
	"github.com/spherical/drawing-extractor/internal/pipeline"
)

type cylinderModel struct{}

func (cylinderModel) Complete(_ context.Context, prompt string, _ []byte) (string, error) {
	if prompt == classify.Prompt {
		return "COMPONENT: CYLINDER", nil
	}
	return "BORE DIAMETER: 80 MM\nSTROKE LENGTH: 300 MM\nDRAWING NUMBER: CYL-7", nil
}

// gatedModel holds every call until release is closed.
type gatedModel struct {
	release chan struct{}
}

func (m gatedModel) Complete(ctx context.Context, prompt string, image []byte) (string, error) {
	<-m.release
	return cylinderModel{}.Complete(ctx, prompt, image)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newTestServerWith(t, cylinderModel{})
}

func newTestServerWith(t *testing.T, model domain.VisionModel) *httptest.Server {
	t.Helper()
	session := pipeline.NewSession(model, pipeline.SessionConfig{Workers: 2})
	srv := httptest.NewServer(NewRouter(observability.Nop(), session, Config{Version: "test"}))
	t.Cleanup(srv.Close)
	return srv
}

func pngFile(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func upload(t *testing.T, srv *httptest.Server, files map[string][]byte) *http.Response {
	t.Helper()
	return uploadTo(t, srv.URL+"/api/v1/uploads", files)
}

func uploadTo(t *testing.T, url string, files map[string][]byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range files {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(url, mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["session"])
}

func TestUploadCorrectExport(t *testing.T) {
	srv := newTestServer(t)

	resp := upload(t, srv, map[string][]byte{
		"drawing.png": pngFile(t),
		"notes.txt":   []byte("not a drawing"),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	up := decode[UploadResponse](t, resp)

	require.Len(t, up.Units, 1)
	require.Len(t, up.IngestErrors, 1)
	assert.Equal(t, "notes.txt", up.IngestErrors[0].File)
	assert.Equal(t, "CYLINDER", up.Units[0].DrawingType)
	assert.Equal(t, "CYL-7", up.Units[0].DrawingNumber)
	assert.Equal(t, "Needs Review", up.Units[0].Status)
	assert.Equal(t, "3/13", up.Units[0].ExtractedFields)
	require.NotNil(t, up.Summary)
	assert.Equal(t, 1, up.Summary.NeedsReview)

	id := up.Units[0].UnitID

	resp, err := http.Get(srv.URL + "/api/v1/units/" + strconv.Itoa(id))
	require.NoError(t, err)
	unit := decode[UnitDTO](t, resp)
	assert.Len(t, unit.Fields, 13)
	assert.Equal(t, 1, unit.Attempts)

	body := `{"corrections":[{"field":"fluid","value":"HYDRAULIC OIL"},{"field":"MOUNTING","value":"CLEVIS"}]}`
	resp, err = http.Post(srv.URL+"/api/v1/units/"+strconv.Itoa(id)+"/corrections", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	corrected := decode[UnitDTO](t, resp)
	assert.Equal(t, "5/13", corrected.ExtractedFields)
	assert.Equal(t, []string{"FLUID", "MOUNTING"}, corrected.ManualFields)

	resp, err = http.Post(srv.URL+"/api/v1/units/"+strconv.Itoa(id)+"/corrections", "application/json", strings.NewReader(`{"field":"COLOR","value":"RED"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/v1/units/" + strconv.Itoa(id) + "/export?format=csv")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	records, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 14)
	assert.Contains(t, records, []string{"FLUID", "HYDRAULIC OIL", "Manually Edited", "100%"})
}

func TestRetryRejectsNonFailedUnit(t *testing.T) {
	srv := newTestServer(t)
	up := decode[UploadResponse](t, upload(t, srv, map[string][]byte{"a.png": pngFile(t)}))
	require.Len(t, up.Units, 1)

	resp, err := http.Post(srv.URL+"/api/v1/units/"+strconv.Itoa(up.Units[0].UnitID)+"/retry", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestUnknownUnit(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/units/42")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/units/abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSummaryAndTableExport(t *testing.T) {
	srv := newTestServer(t)
	decode[UploadResponse](t, upload(t, srv, map[string][]byte{"a.png": pngFile(t), "b.png": pngFile(t)}))

	resp, err := http.Get(srv.URL + "/api/v1/summary")
	require.NoError(t, err)
	summary := decode[domain.BatchSummary](t, resp)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.NeedsReview)

	resp, err = http.Get(srv.URL + "/api/v1/export?format=xlsx")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "processing-history.xlsx")

	resp, err = http.Get(srv.URL + "/api/v1/export?format=pdf")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadWithoutFiles(t *testing.T) {
	srv := newTestServer(t)
	resp := upload(t, srv, map[string][]byte{})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAsyncUpload(t *testing.T) {
	model := gatedModel{release: make(chan struct{})}
	srv := newTestServerWith(t, model)

	resp := uploadTo(t, srv.URL+"/api/v1/uploads?async=true", map[string][]byte{"a.png": pngFile(t)})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	up := decode[UploadResponse](t, resp)

	assert.True(t, up.Async)
	assert.Nil(t, up.Summary)
	require.Len(t, up.Units, 1)
	assert.Equal(t, "Pending", up.Units[0].Status)

	id := strconv.Itoa(up.Units[0].UnitID)
	resp, err := http.Get(srv.URL + "/api/v1/units/" + id)
	require.NoError(t, err)
	unit := decode[UnitDTO](t, resp)
	assert.Contains(t, []string{"Pending", "Processing"}, unit.Status)

	close(model.release)

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/api/v1/units/" + id)
		if err != nil {
			return false
		}
		unit := decode[UnitDTO](t, resp)
		return unit.Status == "Needs Review"
	}, 5*time.Second, 20*time.Millisecond)

	resp, err = http.Get(srv.URL + "/api/v1/units")
	require.NoError(t, err)
	list := decode[map[string][]UnitDTO](t, resp)
	assert.Len(t, list["units"], 1, "re-registering the unit must not duplicate it")
}
