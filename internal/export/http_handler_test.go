package export

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/casefeed/internal/domain"
)

type stubSubmitter struct {
	ids []uuid.UUID
	err error
}

func (s *stubSubmitter) Submit(_ context.Context, id uuid.UUID) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.ids = append(s.ids, id)
	return "job-1", nil
}

func serve(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerListObservations(t *testing.T) {
	f := newFixture(t)
	h := NewHTTPHandler(f.service, nil, nil)

	rec := serve(t, h, http.MethodGet, "/api/observations?country=Japan&from=2020-01-22&to=2020-01-23")

	require.Equal(t, http.StatusOK, rec.Code)
	var body listResponse[domain.ObservationRecord]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Total)
	assert.Equal(t, "Japan", body.Items[0].CountryRegion)
}

func TestHandlerRejectsBadFilter(t *testing.T) {
	f := newFixture(t)
	h := NewHTTPHandler(f.service, nil, nil)

	for _, target := range []string{
		"/api/observations?from=yesterday",
		"/api/observations?limit=0",
		"/api/observations?from=2020-02-01&to=2020-01-01",
	} {
		rec := serve(t, h, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestHandlerLatest(t *testing.T) {
	f := newFixture(t)
	h := NewHTTPHandler(f.service, nil, nil)

	rec := serve(t, h, http.MethodGet, "/api/observations/latest")

	require.Equal(t, http.StatusOK, rec.Code)
	var body listResponse[domain.ObservationRecord]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.EqualValues(t, 3, *body.Items[0].Confirmed)
}

func TestHandlerExportCSV(t *testing.T) {
	f := newFixture(t)
	h := NewHTTPHandler(f.service, nil, nil)

	rec := serve(t, h, http.MethodGet, "/api/observations/export.csv")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Len(t, lines, 4)
	assert.Equal(t, strings.Join(ExportColumns, ","), lines[0])
}

func TestHandlerFiles(t *testing.T) {
	f := newFixture(t)
	h := NewHTTPHandler(f.service, nil, nil)

	rec := serve(t, h, http.MethodGet, "/api/files")
	require.Equal(t, http.StatusOK, rec.Code)
	var list listResponse[domain.TrackedFile]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)

	rec = serve(t, h, http.MethodGet, "/api/files/"+f.file.ID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var detail FileDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.EqualValues(t, 3, detail.StoredRows)
	require.NotNil(t, detail.DownloadURL)

	rec = serve(t, h, http.MethodGet, *detail.DownloadURL)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, storedCSV, rec.Body.String())

	rec = serve(t, h, http.MethodGet, "/api/files/"+f.file.ID.String()+"/download?token=nope")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, h, http.MethodGet, "/api/files/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, h, http.MethodGet, "/api/files/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerReprocess(t *testing.T) {
	f := newFixture(t)
	submitter := &stubSubmitter{}
	h := NewHTTPHandler(f.service, submitter, nil)
	target := "/api/files/" + f.file.ID.String() + "/reprocess"

	rec := serve(t, h, http.MethodPost, target)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []uuid.UUID{f.file.ID}, submitter.ids)

	submitter.err = errors.New("queue closed")
	rec = serve(t, h, http.MethodPost, target)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, f.registry.MarkOutcome(context.Background(), f.file.ID, domain.Outcome{State: domain.FileStateLoaded, RowsLoaded: 3}))
	rec = serve(t, h, http.MethodPost, target)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerRoutesUpload(t *testing.T) {
	f := newFixture(t)
	uploaded := false
	upload := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		uploaded = true
		w.WriteHeader(http.StatusAccepted)
	})
	h := NewHTTPHandler(f.service, nil, upload)

	rec := serve(t, h, http.MethodPost, "/api/files")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, uploaded)
}

func TestHandlerListLogs(t *testing.T) {
	f := newFixture(t)
	h := NewHTTPHandler(f.service, nil, nil)
	line := 3
	require.NoError(t, f.history.Record(context.Background(), domain.IngestionLogEntry{
		FileID:       f.file.ID,
		FileName:     f.file.Name,
		Reason:       domain.FailureDateFormatNotIdentifier,
		LineNumber:   &line,
		ErrorMessage: "date format not identifier",
	}))

	rec := serve(t, h, http.MethodGet, "/api/files/"+f.file.ID.String()+"/logs")

	require.Equal(t, http.StatusOK, rec.Code)
	var body listResponse[domain.IngestionLogEntry]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, domain.FailureDateFormatNotIdentifier, body.Items[0].Reason)
	assert.Equal(t, 3, *body.Items[0].LineNumber)

	rec = serve(t, h, http.MethodGet, "/api/files/"+uuid.NewString()+"/logs")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerListObservationsPaging(t *testing.T) {
	f := newFixture(t)
	h := NewHTTPHandler(f.service, nil, nil)

	rec := serve(t, h, http.MethodGet, "/api/observations?limit=1")

	require.Equal(t, http.StatusOK, rec.Code)
	var body listResponse[domain.ObservationRecord]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Items, 1)
	assert.Equal(t, 3, body.Total)
}

func TestHandlerDateOnlyRangeCoversWholeDay(t *testing.T) {
	f := newFixture(t)
	h := NewHTTPHandler(f.service, nil, nil)

	rec := serve(t, h, http.MethodGet, "/api/observations?from=2020-01-22&to=2020-01-22")

	require.Equal(t, http.StatusOK, rec.Code)
	var body listResponse[domain.ObservationRecord]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 2)
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, "China", body.Items[0].CountryRegion)
	assert.Equal(t, "Japan", body.Items[1].CountryRegion)

	// A full timestamp stays an exclusive bound.
	rec = serve(t, h, http.MethodGet, "/api/observations?from=2020-01-22&to=2020-01-22T18:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
}

func TestHandlerListLogsPaging(t *testing.T) {
	f := newFixture(t)
	h := NewHTTPHandler(f.service, nil, nil)
	for _, reason := range []domain.FailureReason{domain.FailureHeaderNotIdentifier, domain.FailureIOError} {
		require.NoError(t, f.history.Record(context.Background(), domain.IngestionLogEntry{
			FileID:       f.file.ID,
			FileName:     f.file.Name,
			Reason:       reason,
			ErrorMessage: string(reason),
		}))
	}

	rec := serve(t, h, http.MethodGet, "/api/files/"+f.file.ID.String()+"/logs?limit=1")

	require.Equal(t, http.StatusOK, rec.Code)
	var body listResponse[domain.IngestionLogEntry]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, domain.FailureIOError, body.Items[0].Reason)
	assert.Equal(t, 2, body.Total)
}
