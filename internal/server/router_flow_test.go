package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/kindred/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/database"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/photos"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/server"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	flowSigningSecret = "flow-signing-secret"
	flowIssuer        = "kindred-auth"
	flowAudience      = "kindred-api"
	jsonContentType   = "application/json"
)

type flowEnvironment struct {
	server     *httptest.Server
	uploadsDir string
}

func newFlowEnvironment(testContext *testing.T, adminEnabled bool) flowEnvironment {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	tempDir := testContext.TempDir()
	db, err := database.OpenSQLite(filepath.Join(tempDir, "flow.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	store, err := users.NewGormStore(db, nil)
	if err != nil {
		testContext.Fatalf("failed to build store: %v", err)
	}
	hasher, err := auth.NewHasher(auth.HasherConfig{Cost: auth.MinHashCost})
	if err != nil {
		testContext.Fatalf("failed to build hasher: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(flowSigningSecret),
		Issuer:        flowIssuer,
		Audience:      flowAudience,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		testContext.Fatalf("failed to build token issuer: %v", err)
	}
	identities, err := users.NewService(users.ServiceConfig{Store: store, Hasher: hasher, Tokens: tokens})
	if err != nil {
		testContext.Fatalf("failed to build identity service: %v", err)
	}
	admins, err := users.NewAdminService(users.AdminServiceConfig{Store: store, Hasher: hasher})
	if err != nil {
		testContext.Fatalf("failed to build admin service: %v", err)
	}

	uploadsDir := filepath.Join(tempDir, "uploads")
	photoStorage, err := photos.NewLocalStorage(uploadsDir, "/uploads")
	if err != nil {
		testContext.Fatalf("failed to build photo storage: %v", err)
	}
	uploader, err := photos.NewUploader(photos.UploaderConfig{Storage: photoStorage, MaxFiles: 2, MaxBytes: 1 << 16})
	if err != nil {
		testContext.Fatalf("failed to build uploader: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Identities:               identities,
		Tokens:                   tokens,
		Admins:                   admins,
		AdminRegistrationEnabled: adminEnabled,
		Photos:                   uploader,
		Metrics:                  metrics.New(),
		Logger:                   zap.NewNop(),
		AllowedOrigins:           []string{"*"},
		UploadsDir:               uploadsDir,
		UploadsPath:              "/uploads",
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	testContext.Cleanup(testServer.Close)
	return flowEnvironment{server: testServer, uploadsDir: uploadsDir}
}

func (env flowEnvironment) do(testContext *testing.T, method, path, token, contentType string, body io.Reader) (int, map[string]any) {
	testContext.Helper()
	request, err := http.NewRequest(method, env.server.URL+path, body)
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := env.server.Client().Do(request)
	if err != nil {
		testContext.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		testContext.Fatalf("failed to read response: %v", err)
	}
	if strings.Contains(string(raw), "secretHash") || strings.Contains(string(raw), "SecretHash") || strings.Contains(string(raw), "$2a$") {
		testContext.Fatalf("response leaked secret material: %s", raw)
	}
	decoded := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(response.Header.Get("Content-Type"), jsonContentType) {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			testContext.Fatalf("failed to decode response %q: %v", raw, err)
		}
	}
	return response.StatusCode, decoded
}

func (env flowEnvironment) doJSON(testContext *testing.T, method, path, token string, payload any) (int, map[string]any) {
	testContext.Helper()
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			testContext.Fatalf("failed to encode payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}
	return env.do(testContext, method, path, token, jsonContentType, body)
}

func registrationPayload() map[string]any {
	return map[string]any{
		"username": "alice",
		"email":    "Alice@Example.com",
		"password": "wonderland-secret",
		"fullName": "Alice Liddell",
		"dob":      "1990-04-01",
		"age":      34,
		"gender":   "Female",
		"location": map[string]any{"city": " Oxford ", "country": "UK"},
		"hobbies":  "chess, croquet",
	}
}

func TestRegisterLoginProfileFlow(testContext *testing.T) {
	env := newFlowEnvironment(testContext, false)

	status, body := env.doJSON(testContext, http.MethodPost, "/register", "", registrationPayload())
	if status != http.StatusCreated {
		testContext.Fatalf("expected 201 from register, got %d: %v", status, body)
	}
	user := body["user"].(map[string]any)
	if user["email"] != "alice@example.com" || user["status"] != "Active" || user["image"] != "" {
		testContext.Fatalf("unexpected registered user %v", user)
	}
	if hobbies := user["hobbies"].([]any); len(hobbies) != 2 || hobbies[1] != "croquet" {
		testContext.Fatalf("unexpected hobbies %v", user["hobbies"])
	}

	status, body = env.doJSON(testContext, http.MethodPost, "/register", "", registrationPayload())
	if status != http.StatusConflict || body["error"] != "conflict" {
		testContext.Fatalf("expected 409 for duplicate, got %d: %v", status, body)
	}

	status, body = env.doJSON(testContext, http.MethodPost, "/login", "", map[string]any{"email": "alice@example.com", "password": "nope"})
	if status != http.StatusUnauthorized {
		testContext.Fatalf("expected 401 for wrong password, got %d", status)
	}
	status, _ = env.doJSON(testContext, http.MethodPost, "/login", "", map[string]any{"email": "bob@example.com", "password": "nope"})
	if status != http.StatusNotFound {
		testContext.Fatalf("expected 404 for unknown email, got %d", status)
	}
	status, _ = env.doJSON(testContext, http.MethodPost, "/login", "", map[string]any{"email": ""})
	if status != http.StatusBadRequest {
		testContext.Fatalf("expected 400 for missing credentials, got %d", status)
	}

	status, body = env.doJSON(testContext, http.MethodPost, "/login", "", map[string]any{"email": "ALICE@example.com", "password": "wonderland-secret"})
	if status != http.StatusOK {
		testContext.Fatalf("expected 200 from login, got %d: %v", status, body)
	}
	token, _ := body["token"].(string)
	if token == "" || body["expiresIn"].(float64) != 3600 {
		testContext.Fatalf("unexpected login response %v", body)
	}
	userID := body["userId"].(string)

	status, body = env.doJSON(testContext, http.MethodGet, "/profile", token, nil)
	if status != http.StatusOK {
		testContext.Fatalf("expected 200 from profile, got %d: %v", status, body)
	}
	if body["user"].(map[string]any)["id"] != userID {
		testContext.Fatalf("profile returned wrong identity %v", body)
	}

	status, body = env.doJSON(testContext, http.MethodPut, "/profile", token, map[string]any{
		"bio":      "down the rabbit hole",
		"location": map[string]any{"city": "London"},
		"email":    "hijack@example.com",
		"password": "changed",
	})
	if status != http.StatusOK {
		testContext.Fatalf("expected 200 from update, got %d: %v", status, body)
	}
	updated := body["user"].(map[string]any)
	if updated["bio"] != "down the rabbit hole" || updated["email"] != "alice@example.com" {
		testContext.Fatalf("unexpected updated profile %v", updated)
	}
	if updated["location"].(map[string]any)["city"] != "London" || updated["location"].(map[string]any)["country"] != "UK" {
		testContext.Fatalf("unexpected updated location %v", updated["location"])
	}

	status, _ = env.doJSON(testContext, http.MethodPost, "/login", "", map[string]any{"email": "alice@example.com", "password": "wonderland-secret"})
	if status != http.StatusOK {
		testContext.Fatalf("password must not change through profile update, got %d", status)
	}

	status, body = env.doJSON(testContext, http.MethodPut, "/profile", token, map[string]any{"age": 12})
	if status != http.StatusBadRequest || body["error"] != "validation_failed" {
		testContext.Fatalf("expected 400 for underage update, got %d: %v", status, body)
	}

	status, _ = env.doJSON(testContext, http.MethodPut, "/profile/online", token, map[string]any{"online": true})
	if status != http.StatusOK {
		testContext.Fatalf("expected 200 from online toggle, got %d", status)
	}
	status, body = env.doJSON(testContext, http.MethodGet, "/user-count", token, nil)
	if status != http.StatusOK {
		testContext.Fatalf("expected 200 from user-count, got %d", status)
	}
	if body["total"].(float64) != 1 || body["online"].(float64) != 1 || body["active"].(float64) != 1 {
		testContext.Fatalf("unexpected counts %v", body)
	}
}

func TestProtectedRoutesRequireValidToken(testContext *testing.T) {
	env := newFlowEnvironment(testContext, false)

	for _, path := range []string{"/profile", "/user-count"} {
		status, body := env.doJSON(testContext, http.MethodGet, path, "", nil)
		if status != http.StatusUnauthorized || body["error"] != "unauthorized" {
			testContext.Fatalf("%s: expected 401 without token, got %d", path, status)
		}
		status, _ = env.doJSON(testContext, http.MethodGet, path, "garbage", nil)
		if status != http.StatusUnauthorized {
			testContext.Fatalf("%s: expected 401 for malformed token, got %d", path, status)
		}
	}

	expired := mustMintToken(testContext, flowSigningSecret, jwt.MapClaims{
		"identityId": "someone",
		"exp":        time.Now().Add(-time.Minute).Unix(),
	})
	status, _ := env.doJSON(testContext, http.MethodGet, "/profile", expired, nil)
	if status != http.StatusUnauthorized {
		testContext.Fatalf("expected 401 for expired token, got %d", status)
	}

	forged := mustMintToken(testContext, "another-secret", jwt.MapClaims{
		"identityId": "someone",
		"exp":        time.Now().Add(time.Hour).Unix(),
	})
	status, _ = env.doJSON(testContext, http.MethodGet, "/profile", forged, nil)
	if status != http.StatusUnauthorized {
		testContext.Fatalf("expected 401 for foreign signature, got %d", status)
	}
}

func TestLegacyTokenClaimsResolveIdentity(testContext *testing.T) {
	env := newFlowEnvironment(testContext, false)

	status, body := env.doJSON(testContext, http.MethodPost, "/register", "", registrationPayload())
	if status != http.StatusCreated {
		testContext.Fatalf("expected 201 from register, got %d: %v", status, body)
	}
	userID := body["user"].(map[string]any)["id"].(string)

	legacy := mustMintToken(testContext, flowSigningSecret, jwt.MapClaims{
		"userId": userID,
		"email":  "alice@example.com",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	status, body = env.doJSON(testContext, http.MethodGet, "/profile", legacy, nil)
	if status != http.StatusOK || body["user"].(map[string]any)["id"] != userID {
		testContext.Fatalf("expected legacy token to resolve identity, got %d: %v", status, body)
	}

	unknown := mustMintToken(testContext, flowSigningSecret, jwt.MapClaims{
		"user": map[string]any{"_id": "does-not-exist"},
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	status, _ = env.doJSON(testContext, http.MethodGet, "/profile", unknown, nil)
	if status != http.StatusNotFound {
		testContext.Fatalf("expected 404 for unknown identity, got %d", status)
	}
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0x07}, 64)...)

func multipartBody(testContext *testing.T, fields map[string]string, files map[string][]byte) (string, io.Reader) {
	testContext.Helper()
	buffer := &bytes.Buffer{}
	writer := multipart.NewWriter(buffer)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			testContext.Fatalf("failed to write field: %v", err)
		}
	}
	for name, content := range files {
		part, err := writer.CreateFormFile("photos", name)
		if err != nil {
			testContext.Fatalf("failed to create file part: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			testContext.Fatalf("failed to write file part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		testContext.Fatalf("failed to close multipart writer: %v", err)
	}
	return writer.FormDataContentType(), buffer
}

func multipartRegistration() map[string]string {
	return map[string]string{
		"username":  "carol",
		"email":     "carol@example.com",
		"password":  "captain-secret",
		"firstName": "Carol",
		"lastName":  "Danvers",
		"dob":       "1985-06-01",
		"age":       "39",
		"gender":    "female",
		"city":      "Boston",
		"hobbies":   "flying,boxing",
	}
}

func uploadedFiles(testContext *testing.T, dir string) []os.DirEntry {
	testContext.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		testContext.Fatalf("failed to read uploads: %v", err)
	}
	return entries
}

func TestMultipartRegistrationStoresPhotos(testContext *testing.T) {
	env := newFlowEnvironment(testContext, false)

	contentType, body := multipartBody(testContext, multipartRegistration(), map[string][]byte{"me.png": pngBytes})
	status, response := env.do(testContext, http.MethodPost, "/register", "", contentType, body)
	if status != http.StatusCreated {
		testContext.Fatalf("expected 201 from multipart register, got %d: %v", status, response)
	}
	user := response["user"].(map[string]any)
	image, _ := user["image"].(string)
	if !strings.HasPrefix(image, "/uploads/") {
		testContext.Fatalf("expected primary photo reference, got %v", user)
	}
	if user["location"].(map[string]any)["city"] != "Boston" || user["lastName"] != "Danvers" {
		testContext.Fatalf("unexpected multipart user %v", user)
	}

	photoResponse, err := env.server.Client().Get(env.server.URL + image)
	if err != nil {
		testContext.Fatalf("failed to fetch photo: %v", err)
	}
	defer photoResponse.Body.Close()
	if photoResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("expected stored photo to be served, got %d", photoResponse.StatusCode)
	}

	status, response = env.doJSON(testContext, http.MethodPost, "/login", "", map[string]any{"email": "carol@example.com", "password": "captain-secret"})
	if status != http.StatusOK {
		testContext.Fatalf("login failed: %d", status)
	}
	token := response["token"].(string)

	status, response = env.doJSON(testContext, http.MethodPut, "/profile", token, map[string]any{"bio": "higher, further, faster"})
	if status != http.StatusOK {
		testContext.Fatalf("update failed: %d", status)
	}
	if response["user"].(map[string]any)["image"] != image {
		testContext.Fatalf("photos must be retained when none are uploaded")
	}
}

func TestFailedRegistrationRemovesUploadedPhotos(testContext *testing.T) {
	env := newFlowEnvironment(testContext, false)

	fields := multipartRegistration()
	fields["age"] = "16"
	contentType, body := multipartBody(testContext, fields, map[string][]byte{"me.png": pngBytes})
	status, _ := env.do(testContext, http.MethodPost, "/register", "", contentType, body)
	if status != http.StatusBadRequest {
		testContext.Fatalf("expected 400 for underage registration, got %d", status)
	}
	if entries := uploadedFiles(testContext, env.uploadsDir); len(entries) != 0 {
		testContext.Fatalf("expected no orphaned photos, found %d", len(entries))
	}

	contentType, body = multipartBody(testContext, multipartRegistration(), map[string][]byte{"notes.txt": []byte("hello")})
	status, response := env.do(testContext, http.MethodPost, "/register", "", contentType, body)
	if status != http.StatusBadRequest || response["error"] != "invalid_photos" {
		testContext.Fatalf("expected 400 for non-image upload, got %d: %v", status, response)
	}
}

func TestAdminRegistrationRoute(testContext *testing.T) {
	disabled := newFlowEnvironment(testContext, false)
	status, _ := disabled.doJSON(testContext, http.MethodPost, "/admin/register", "", map[string]any{"email": "root@example.com", "password": "pw"})
	if status != http.StatusNotFound {
		testContext.Fatalf("expected admin route to be absent, got %d", status)
	}

	enabled := newFlowEnvironment(testContext, true)
	status, body := enabled.doJSON(testContext, http.MethodPost, "/admin/register", "", map[string]any{"email": "root@example.com", "password": "pw"})
	if status != http.StatusCreated {
		testContext.Fatalf("expected 201 from admin register, got %d: %v", status, body)
	}
	status, _ = enabled.doJSON(testContext, http.MethodPost, "/admin/register", "", map[string]any{"email": "ROOT@example.com", "password": "pw"})
	if status != http.StatusConflict {
		testContext.Fatalf("expected 409 for duplicate admin, got %d", status)
	}
}

func TestHealthAndMetricsEndpoints(testContext *testing.T) {
	env := newFlowEnvironment(testContext, false)

	status, body := env.doJSON(testContext, http.MethodGet, "/healthz", "", nil)
	if status != http.StatusOK || body["status"] != "ok" {
		testContext.Fatalf("unexpected health response %d %v", status, body)
	}

	env.doJSON(testContext, http.MethodPost, "/login", "", map[string]any{"email": "x@example.com", "password": "pw"})
	response, err := env.server.Client().Get(env.server.URL + "/metrics")
	if err != nil {
		testContext.Fatalf("metrics request failed: %v", err)
	}
	defer response.Body.Close()
	raw, _ := io.ReadAll(response.Body)
	if !strings.Contains(string(raw), `kindred_workflow_outcomes_total{operation="login",outcome="not_found"} 1`) {
		testContext.Fatalf("expected login outcome in metrics, got %s", raw)
	}
}

func mustMintToken(testContext *testing.T, secret string, claims jwt.MapClaims) string {
	testContext.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		testContext.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
