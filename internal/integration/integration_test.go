package integration

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"adaptive-assessment-service/internal/app"
	"adaptive-assessment-service/internal/domain"
	"adaptive-assessment-service/internal/inference"
	"adaptive-assessment-service/internal/infra/memory"
	pgloader "adaptive-assessment-service/internal/infra/postgres"
	infraredis "adaptive-assessment-service/internal/infra/redis"
	"adaptive-assessment-service/internal/infra/sqlstore"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestAssessmentFlowEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db, err := sqlstore.Open(sqlstore.DriverPostgres, pgURL)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()
	if _, err := sqlstore.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	topics, questions := sampleInventory()
	if err := sqlstore.Seed(ctx, db, topics, questions); err != nil {
		t.Fatalf("seed: %v", err)
	}

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	loader := pgloader.NewQuestionLoader(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	ledger := memory.NewLedger()
	engine := app.NewEngine(
		sqlstore.New(db),
		infraredis.NewInventoryCache(redisClient, loader, 5*time.Minute),
		inference.NewHeuristic(),
		app.Options{Ledger: ledger, Leaderboard: infraredis.NewLeaderboard(redisClient)},
	)

	quiz, err := engine.GenerateQuiz(ctx, app.QuizRequest{Owner: "u1", TopicIDs: []string{"arithmetic", "capitals"}, Count: 10})
	if err != nil {
		t.Fatalf("generate quiz: %v", err)
	}
	if len(quiz.QuestionIDs) != 3 || !quiz.Short() {
		t.Fatalf("expected the whole pool of 3, got %+v", quiz)
	}

	record, err := engine.SubmitQuiz(ctx, "u1", domain.AnswerSubmission{
		QuizID:  quiz.ID,
		Answers: map[string]string{"cap-1": " paris", "add-1": "4", "add-2": "five"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if record.TotalCorrect != 2 || record.Total != 3 {
		t.Fatalf("expected 2 of 3 correct, got %+v", record)
	}
	if _, err := engine.SubmitQuiz(ctx, "u1", domain.AnswerSubmission{QuizID: quiz.ID}); domain.KindOf(err) != domain.KindConflict {
		t.Fatalf("expected conflict on resubmission, got %v", err)
	}

	assessments, err := engine.AnalyzeWeakness(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(assessments) != 2 || assessments[0].TopicID != "arithmetic" {
		t.Fatalf("expected arithmetic to be weakest, got %+v", assessments)
	}

	quests, err := engine.GenerateQuests(ctx, "u1")
	if err != nil {
		t.Fatalf("generate quests: %v", err)
	}
	if len(quests) != 1 || quests[0].Topics()[0] != "arithmetic" {
		t.Fatalf("expected one arithmetic quest, got %+v", quests)
	}
	active, err := engine.ListActiveQuests(ctx, "u1")
	if err != nil || len(active) != 1 || active[0].ID != quests[0].ID {
		t.Fatalf("expected the quest to be listed: %+v %v", active, err)
	}

	board, err := engine.Leaderboard(ctx, 5)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board.Entries) != 1 || board.Entries[0].UserID != "u1" || board.Entries[0].Score != 2 {
		t.Fatalf("unexpected leaderboard %+v", board)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "assessment", "POSTGRES_PASSWORD": "assessmentpass", "POSTGRES_DB": "assessment"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://assessment:assessmentpass@%s:%s/assessment?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func sampleInventory() ([]domain.Topic, []domain.Question) {
	topics := []domain.Topic{
		{ID: "arithmetic", Subject: "math", Name: "Arithmetic"},
		{ID: "capitals", Subject: "geography", Name: "Capitals"},
	}
	questions := []domain.Question{
		{ID: "add-1", TopicID: "arithmetic", Difficulty: 1, Prompt: "What is 2 + 2?", Answers: []string{"4"}, Mode: domain.MatchNumeric},
		{ID: "add-2", TopicID: "arithmetic", Difficulty: 1, Prompt: "What is 2 + 3?", Answers: []string{"5"}, Mode: domain.MatchNumeric},
		{ID: "cap-1", TopicID: "capitals", Difficulty: 1, Prompt: "Capital of France?", Answers: []string{"Paris"}, Mode: domain.MatchExact},
	}
	return topics, questions
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
