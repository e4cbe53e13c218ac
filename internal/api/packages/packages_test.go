package packages

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunderstore-io/thunderstore-registry/internal/apperrors"
	"github.com/thunderstore-io/thunderstore-registry/internal/cache"
	"github.com/thunderstore-io/thunderstore-registry/internal/db/models"
	"github.com/thunderstore-io/thunderstore-registry/internal/middleware"
	"github.com/thunderstore-io/thunderstore-registry/internal/publish"
	"github.com/thunderstore-io/thunderstore-registry/internal/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	riskOfRain = &models.Community{ID: uuid.New(), Identifier: "riskofrain2", Name: "Risk of Rain 2"}
	tester     = &models.User{ID: uuid.New(), Username: "tester", IsActive: true}
)

// withScope sets the community and user the way the middleware chain does.
func withScope(user *models.User, site *models.CommunitySite) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.CommunityKey, riskOfRain)
		if site != nil {
			c.Set(middleware.CommunitySiteKey, site)
		}
		if user != nil {
			c.Set(middleware.UserKey, user)
		}
	}
}

// ---------------------------------------------------------------------------
// Upload
// ---------------------------------------------------------------------------

type fakePublisher struct {
	scope  publish.Scope
	upload publish.Upload
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, scope publish.Scope, upload publish.Upload) (*publish.ValidatedUpload, *models.PackageVersion, error) {
	f.scope = scope
	f.upload = upload
	if f.err != nil {
		return nil, nil, f.err
	}
	validated := &publish.ValidatedUpload{Owner: &models.UploaderIdentity{ID: uuid.New(), Name: "Tester-1"}}
	version := &models.PackageVersion{
		ID:            uuid.New(),
		Name:          "test_1",
		VersionNumber: "1.0.0",
		Description:   "A test package",
		Icon:          "https://cdn.example.com/Tester-1-test_1-1.0.0.png",
		IsActive:      true,
		DateCreated:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	return validated, version, nil
}

func multipartBody(t *testing.T, file []byte, metadata string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if file != nil {
		part, err := w.CreateFormFile("file", "test_1.zip")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	if metadata != "" {
		require.NoError(t, w.WriteField("metadata", metadata))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func newUploadRouter(p Publisher, site *models.CommunitySite) *gin.Engine {
	r := gin.New()
	r.POST("/upload/", withScope(tester, site), NewUploadHandler(p, 1<<20, "http://localhost:8080/").Upload)
	return r
}

func postUpload(r http.Handler, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/upload/", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUpload_Success(t *testing.T) {
	publisher := &fakePublisher{}
	site := &models.CommunitySite{ID: uuid.New(), CommunityID: riskOfRain.ID, Domain: "ror2.thunderstore.io"}
	body, ct := multipartBody(t, []byte("PK\x03\x04zip"), `{"author_name":"Tester-1","categories":[],"has_nsfw_content":false}`)

	w := postUpload(newUploadRouter(publisher, site), body, ct)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got cache.VersionJSON
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Tester-1-test_1-1.0.0", got.FullName)
	assert.Equal(t, "https://ror2.thunderstore.io/package/download/Tester-1/test_1/1.0.0/", got.DownloadURL)
	assert.Equal(t, []string{}, got.Dependencies)

	assert.Same(t, tester, publisher.scope.User)
	assert.Same(t, riskOfRain, publisher.scope.Community)
	assert.Same(t, site, publisher.scope.Site)
	assert.Equal(t, "test_1.zip", publisher.upload.Filename)
	assert.Equal(t, int64(len("PK\x03\x04zip")), publisher.upload.Size)
	require.NotNil(t, publisher.upload.Metadata)
	assert.Equal(t, "Tester-1", publisher.upload.Metadata.AuthorName)
}

func TestUpload_FallsBackToBaseURLWithoutSite(t *testing.T) {
	body, ct := multipartBody(t, []byte("zip"), `{"author_name":"Tester-1"}`)

	w := postUpload(newUploadRouter(&fakePublisher{}, nil), body, ct)

	require.Equal(t, http.StatusOK, w.Code)
	var got cache.VersionJSON
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "http://localhost:8080/package/download/Tester-1/test_1/1.0.0/", got.DownloadURL)
}

func TestUpload_MissingPartsAreReportedTogether(t *testing.T) {
	publisher := &fakePublisher{}
	body, ct := multipartBody(t, nil, "")

	w := postUpload(newUploadRouter(publisher, nil), body, ct)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var got struct {
		Fields map[string][]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, []string{publish.MsgFieldRequired}, got.Fields["file"])
	assert.Equal(t, []string{publish.MsgFieldRequired}, got.Fields["metadata"])
	assert.Nil(t, publisher.upload.Metadata, "publisher must not be called")
}

func TestUpload_PublishErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not a member", &apperrors.AuthorizationError{Field: "author_name", Message: "Object not found"}, http.StatusForbidden},
		{"bad manifest", &apperrors.ValidationError{Field: "file", Message: "manifest.json not found"}, http.StatusBadRequest},
		{"concurrent publish", &apperrors.ConflictError{Message: "package version already exists"}, http.StatusConflict},
		{"blob store down", &apperrors.StorageError{Op: "store package file", Err: errors.New("s3: timeout")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, []byte("zip"), `{"author_name":"Tester-1"}`)

			w := postUpload(newUploadRouter(&fakePublisher{err: tt.err}, nil), body, ct)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.NotContains(t, w.Body.String(), "s3: timeout")
		})
	}
}

// ---------------------------------------------------------------------------
// Download
// ---------------------------------------------------------------------------

type fakeVersions struct {
	version     *models.PackageVersion
	err         error
	countErr    error
	ref         models.VersionRef
	incremented []uuid.UUID
}

func (f *fakeVersions) GetActiveVersion(_ context.Context, ref models.VersionRef) (*models.PackageVersion, error) {
	f.ref = ref
	return f.version, f.err
}

func (f *fakeVersions) IncrementDownloads(_ context.Context, id uuid.UUID) error {
	f.incremented = append(f.incremented, id)
	return f.countErr
}

type prefixURLer string

func (p prefixURLer) URL(key string) string { return string(p) + key }

func newDownloadRouter(versions VersionReader) *gin.Engine {
	r := gin.New()
	r.GET("/package/download/:owner/:name/:version/", withScope(nil, nil),
		NewDownloadHandler(versions, prefixURLer("https://cdn.example.com/")).Download)
	return r
}

func get(r http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestDownload_RedirectsAndCounts(t *testing.T) {
	version := &models.PackageVersion{ID: uuid.New(), FileKey: "Tester-1-test_1-1.0.0.zip", IsActive: true}
	versions := &fakeVersions{version: version}
	before := testutil.ToFloat64(telemetry.PackageDownloadsTotal.WithLabelValues(riskOfRain.Identifier))

	w := get(newDownloadRouter(versions), "/package/download/Tester-1/test_1/1.0.0/")

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://cdn.example.com/Tester-1-test_1-1.0.0.zip", w.Header().Get("Location"))
	assert.Equal(t, models.VersionRef{Owner: "Tester-1", Name: "test_1", Version: "1.0.0"}, versions.ref)
	assert.Equal(t, []uuid.UUID{version.ID}, versions.incremented)
	assert.Equal(t, before+1, testutil.ToFloat64(telemetry.PackageDownloadsTotal.WithLabelValues(riskOfRain.Identifier)))
}

func TestDownload_CountFailureStillRedirects(t *testing.T) {
	versions := &fakeVersions{
		version:  &models.PackageVersion{ID: uuid.New(), FileKey: "a.zip"},
		countErr: errors.New("pq: deadlock detected"),
	}

	w := get(newDownloadRouter(versions), "/package/download/Tester-1/test_1/1.0.0/")

	assert.Equal(t, http.StatusFound, w.Code)
}

func TestDownload_NotFound(t *testing.T) {
	w := get(newDownloadRouter(&fakeVersions{}), "/package/download/Tester-1/test_1/9.9.9/")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownload_LookupErrorIsCaptured(t *testing.T) {
	before := testutil.ToFloat64(telemetry.ErrorsCapturedTotal.WithLabelValues("download"))

	w := get(newDownloadRouter(&fakeVersions{err: errors.New("pq: connection refused")}), "/package/download/a/b/1.0.0/")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
	assert.Equal(t, before+1, testutil.ToFloat64(telemetry.ErrorsCapturedTotal.WithLabelValues("download")))
}

// ---------------------------------------------------------------------------
// Listings
// ---------------------------------------------------------------------------

type fakeSurfaces struct {
	payload   []byte
	err       error
	surface   string
	community string
}

func (f *fakeSurfaces) Read(_ context.Context, surfaceID, community string) ([]byte, error) {
	f.surface = surfaceID
	f.community = community
	return f.payload, f.err
}

type countingQueue struct{ n int }

func (q *countingQueue) Enqueue() { q.n++ }

func TestListing_ServesPayloadVerbatim(t *testing.T) {
	payload := []byte(`[{"name":"test_1"}]`)
	surfaces := &fakeSurfaces{payload: payload}
	queue := &countingQueue{}
	r := gin.New()
	r.GET("/api/v1/package/", withScope(nil, nil), NewListingHandler(surfaces, queue).Serve(cache.SurfaceV1))

	w := get(r, "/api/v1/package/")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payload, w.Body.Bytes())
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, cache.SurfaceV1, surfaces.surface)
	assert.Equal(t, riskOfRain.Identifier, surfaces.community)
	assert.Zero(t, queue.n)
}

func TestListing_MissQueuesRegeneration(t *testing.T) {
	queue := &countingQueue{}
	r := gin.New()
	r.GET("/api/experimental/package/", withScope(nil, nil),
		NewListingHandler(&fakeSurfaces{err: cache.ErrCacheMiss}, queue).Serve(cache.SurfaceExperimental))

	w := get(r, "/api/experimental/package/")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Equal(t, 1, queue.n)
}

func TestListing_StoreError(t *testing.T) {
	queue := &countingQueue{}
	r := gin.New()
	r.GET("/api/v1/package/", withScope(nil, nil),
		NewListingHandler(&fakeSurfaces{err: errors.New("redis: connection pool timeout")}, queue).Serve(cache.SurfaceV1))

	w := get(r, "/api/v1/package/")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Zero(t, queue.n)
}

func TestListing_NoCommunity(t *testing.T) {
	r := gin.New()
	r.GET("/api/v1/package/", NewListingHandler(&fakeSurfaces{}, &countingQueue{}).Serve(cache.SurfaceV1))

	w := get(r, "/api/v1/package/")

	assert.Equal(t, http.StatusNotFound, w.Code)
}
