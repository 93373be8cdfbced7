package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hibiken/asynq"

	"github.com/reena96/bmax-adgenie-563362/internal/auth"
	"github.com/reena96/bmax-adgenie-563362/internal/config"
	"github.com/reena96/bmax-adgenie-563362/internal/handler"
	"github.com/reena96/bmax-adgenie-563362/internal/middleware"
	"github.com/reena96/bmax-adgenie-563362/internal/service"
	"github.com/reena96/bmax-adgenie-563362/internal/store"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app      *fiber.App
	store    *store.MemoryStore
	service  *service.GenerationService
	enqueuer *recordingEnqueuer
}

// recordingEnqueuer captures tasks instead of dispatching to Redis, so
// handler tests observe queued jobs without a worker running.
type recordingEnqueuer struct {
	tasks []*asynq.Task
}

func (r *recordingEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: "test-task", Queue: "generation"}, nil
}

// setupApp creates a Fiber app wired like main.go but with an in-memory
// job store and a recording task queue, so no external services are
// needed.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	validate := validator.New()

	jobStore := store.NewMemoryStore()
	enqueuer := &recordingEnqueuer{}

	gen := &config.GenerationConfig{
		MaxSceneRetries:  2,
		MaxAudioRetries:  2,
		CrossfadeSeconds: 1.0,
		VoiceLevel:       1.0,
		MusicLevel:       0.3,
		SFXLevel:         0.5,
		Codec:            "libx264",
		CRF:              22,
		Width:            1920,
		Height:           1080,
		FPS:              30,
	}

	generationService := service.NewGenerationService(jobStore, enqueuer, gen)
	generationHandler := handler.NewGenerationHandler(generationService, validate)

	// Auth handler (for /auth/verify)
	authHandler := handler.NewAuthHandler(nil, testJWTSecret)

	// Auth middleware — legacy HMAC only
	authMiddleware := middleware.NewLegacyAuthMiddleware(testJWTSecret)

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024,
	})

	// Base routes
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"scene":   false,
				"voice":   false,
				"music":   false,
				"sfx":     false,
				"storage": false,
				"auth":    true,
			},
		})
	})
	app.Get("/auth/verify", authHandler.Verify)

	// API routes (authenticated)
	api := app.Group("/api", authMiddleware.Authenticate())

	generation := api.Group("/generation")
	generation.Post("/start", generationHandler.Start)
	generation.Get("/status/:jobId", generationHandler.Status)
	generation.Get("/result/:jobId", generationHandler.Result)
	generation.Post("/cancel/:jobId", generationHandler.Cancel)

	return &testApp{
		app:      app,
		store:    jobStore,
		service:  generationService,
		enqueuer: enqueuer,
	}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	claims := auth.LegacyClaims{
		UserID: "test-user-123",
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "adgenie-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
