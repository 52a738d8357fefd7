package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/casefeed/internal/domain"
	"github.com/rpattn/casefeed/internal/registry"
	"github.com/rpattn/casefeed/internal/repository/repotest"
	"github.com/rpattn/casefeed/internal/storage"
)

func ptr[T any](v T) *T { return &v }

type fixture struct {
	service      *Service
	registry     *registry.Registry
	observations *repotest.Observations
	history      *repotest.IngestionLogs
	file         domain.TrackedFile
}

const storedCSV = "province_state;country_region;last_update\nHubei;China;2020-01-22 17:00:00\n"

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	blobs, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	reg := registry.New(repotest.NewTrackedFiles(), blobs, nil)
	observations := repotest.NewObservations()

	ctx := context.Background()
	file, err := reg.Register(ctx, registry.RegisterRequest{Name: "01-22-2020.csv", Data: []byte(storedCSV)})
	require.NoError(t, err)

	day := time.Date(2020, 1, 22, 0, 0, 0, 0, time.UTC)
	records := []domain.ObservationRecord{
		{ProvinceState: ptr("Hubei"), CountryRegion: "China", LastUpdate: day.Add(17 * time.Hour), Confirmed: ptr[int64](444), Suspected: ptr[int64](10), ReportDay: &day},
		{CountryRegion: "Japan", LastUpdate: day.Add(18 * time.Hour), Confirmed: ptr[int64](2), Latitude: ptr(36.2), Longitude: ptr(138.25), ReportDay: &day},
		{CountryRegion: "Japan", LastUpdate: day.Add(48 * time.Hour), Confirmed: ptr[int64](3), ReportDay: &day},
	}
	for i := range records {
		records[i].DeriveConfirmedSuspected()
	}
	_, err = observations.BulkInsert(ctx, file.ID, records)
	require.NoError(t, err)

	history := repotest.NewIngestionLogs()
	opts = append([]Option{WithHistory(history)}, opts...)
	return &fixture{
		service:      NewService(observations, reg, opts...),
		registry:     reg,
		observations: observations,
		history:      history,
		file:         file,
	}
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteCSVExportsEverything(t *testing.T) {
	f := newFixture(t, WithPageSize(1))
	var buf bytes.Buffer

	n, err := f.service.WriteCSV(context.Background(), &buf, domain.ObservationFilter{})

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	rows := readCSV(t, buf.Bytes())
	require.Len(t, rows, 4)
	assert.Equal(t, ExportColumns, rows[0])
	assert.Equal(t, []string{
		f.file.ID.String(), "Hubei", "China", "2020-01-22T17:00:00Z", "444", "", "", "10", "454", "", "", "2020-01-22",
	}, rows[1])
	assert.Equal(t, "36.2", rows[2][9])
	assert.Equal(t, "138.25", rows[2][10])
}

func TestWriteCSVPagesThroughFilter(t *testing.T) {
	f := newFixture(t, WithPageSize(1))
	var buf bytes.Buffer

	n, err := f.service.WriteCSV(context.Background(), &buf, domain.ObservationFilter{CountryRegion: "japan"})

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	rows := readCSV(t, buf.Bytes())
	require.Len(t, rows, 3)
	assert.Equal(t, "Japan", rows[1][2])
	assert.Equal(t, "Japan", rows[2][2])
}

func TestWriteCSVHonoursLimit(t *testing.T) {
	f := newFixture(t, WithPageSize(2))
	var buf bytes.Buffer

	n, err := f.service.WriteCSV(context.Background(), &buf, domain.ObservationFilter{Limit: 1, Offset: 1})

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rows := readCSV(t, buf.Bytes())
	require.Len(t, rows, 2)
	assert.Equal(t, "2", rows[1][4])
}

func TestFileDetailAndSignedDownload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	detail, err := f.service.File(ctx, f.file.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, detail.StoredRows)
	require.NotNil(t, detail.DownloadURL)

	token := f.service.signer.Sign(f.file.ID, time.Now())
	file, rc, err := f.service.OpenFile(ctx, f.file.ID, token)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, f.file.ID, file.ID)
	assert.Equal(t, storedCSV, string(data))
}

func TestOpenFileRejectsBadTokens(t *testing.T) {
	f := newFixture(t, WithDownloadTokenTTL(time.Minute))
	ctx := context.Background()

	_, _, err := f.service.OpenFile(ctx, f.file.ID, "")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := f.service.signer.Sign(uuid.New(), time.Now())
	_, _, err = f.service.OpenFile(ctx, f.file.ID, other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := f.service.signer.Sign(f.file.ID, time.Now().Add(-time.Hour))
	_, _, err = f.service.OpenFile(ctx, f.file.ID, expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	forged := newDownloadSigner(time.Minute).Sign(f.file.ID, time.Now())
	_, _, err = f.service.OpenFile(ctx, f.file.ID, forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestFileUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.File(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDownloadSecretIsSharedAcrossInstances(t *testing.T) {
	f := newFixture(t, WithDownloadSecret("shared-secret"))
	ctx := context.Background()
	peer := NewService(f.observations, f.registry, WithDownloadSecret("shared-secret"))
	stranger := NewService(f.observations, f.registry)

	token := peer.signer.Sign(f.file.ID, time.Now())

	_, rc, err := f.service.OpenFile(ctx, f.file.ID, token)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	_, _, err = stranger.OpenFile(ctx, f.file.ID, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestObservationsTotalCountsEveryPage(t *testing.T) {
	f := newFixture(t)

	records, total, err := f.service.Observations(context.Background(), domain.ObservationFilter{Limit: 1, Offset: 1})

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Japan", records[0].CountryRegion)
	assert.EqualValues(t, 3, total)
}

func TestLatestReturnsWholeLastDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other, err := f.registry.Register(ctx, registry.RegisterRequest{Name: "01-24-2020.csv", Data: []byte(storedCSV + "\n")})
	require.NoError(t, err)
	morning := time.Date(2020, 1, 24, 8, 0, 0, 0, time.UTC)
	_, err = f.observations.BulkInsert(ctx, other.ID, []domain.ObservationRecord{
		{CountryRegion: "Thailand", LastUpdate: morning, Confirmed: ptr[int64](4)},
	})
	require.NoError(t, err)

	records, err := f.service.Latest(ctx)

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Japan", records[0].CountryRegion)
	assert.EqualValues(t, 3, *records[0].Confirmed)
	assert.Equal(t, "Thailand", records[1].CountryRegion)
}
