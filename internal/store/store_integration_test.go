package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nkamali/faro/internal/pipeline"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("faro"),
		tcPostgres.WithUsername("faro"),
		tcPostgres.WithPassword("faro"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(time.Minute)),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://faro:faro@%s:%s/faro?sslmode=disable", host, port.Port())

	if err := Migrate("file://../../migrations", dsn, "up", 0); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleAnswer() *pipeline.Answer {
	return &pipeline.Answer{
		FormattedAnswer: "Paris is the capital [Wiki](https://en.wikipedia.org/wiki/Paris).",
		Sources: []pipeline.SourceRef{
			{Title: "Wiki", URL: "https://en.wikipedia.org/wiki/Paris"},
		},
		Images: []string{"https://img.example/paris.png"},
		Verification: &pipeline.VerificationResult{
			Confidence: 0.9,
		},
		Plan: []pipeline.SubTask{
			{ID: "t1", Kind: pipeline.TaskGeneric, Query: "capital of France"},
		},
		LastFetched: time.Now().UTC(),
	}
}

func TestSaveGetRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, err := s.SaveAnswer(ctx, "capital of France", false, sampleAnswer())
	if err != nil {
		t.Fatal(err)
	}
	rec, err := s.GetAnswer(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Query != "capital of France" {
		t.Fatalf("query = %q", rec.Query)
	}
	if len(rec.Sources) != 1 || rec.Sources[0].URL != "https://en.wikipedia.org/wiki/Paris" {
		t.Fatalf("sources = %+v", rec.Sources)
	}
	if rec.Verification == nil || rec.Verification.Confidence != 0.9 {
		t.Fatalf("verification = %+v", rec.Verification)
	}
	if len(rec.Plan) != 1 || rec.Plan[0].Kind != pipeline.TaskGeneric {
		t.Fatalf("plan = %+v", rec.Plan)
	}
}

func TestListAnswersFiltersAndOrders(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for _, q := range []string{"capital of France", "capital of Spain", "tallest mountain"} {
		if _, err := s.SaveAnswer(ctx, q, false, sampleAnswer()); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListAnswers(ctx, "", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d records, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.After(all[i-1].CreatedAt) {
			t.Fatal("records not ordered newest first")
		}
	}

	capitals, err := s.ListAnswers(ctx, "capital", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(capitals) != 2 {
		t.Fatalf("filter returned %d records, want 2", len(capitals))
	}
}

func TestDeleteAnswer(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, err := s.SaveAnswer(ctx, "q", false, sampleAnswer())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteAnswer(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetAnswer(ctx, id); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteAnswer(ctx, id); err != ErrNotFound {
		t.Fatalf("double delete err = %v, want ErrNotFound", err)
	}
}
