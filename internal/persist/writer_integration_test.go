package persist_test

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/p-n-ai/pai-mcq/internal/mcq"
	"github.com/p-n-ai/pai-mcq/internal/mcq/mcqtest"
	"github.com/p-n-ai/pai-mcq/internal/persist"
	"github.com/p-n-ai/pai-mcq/internal/platform/database"
)

// startDB runs a throwaway PostgreSQL container with the schema applied.
func startDB(t *testing.T) *database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("mcq"),
		postgres.WithUsername("mcq"),
		postgres.WithPassword("mcq"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = ctr.Terminate(stopCtx)
	})

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("ConnectionString() error = %v", err)
	}
	db, err := database.New(ctx, url, 4, 1)
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// A second run must be a no-op.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	return db
}

type questionRow struct {
	Text, A, B, C, D, Answer, Explanation string
}

func questions(t *testing.T, db *database.DB, topicID int64, class string) []questionRow {
	t.Helper()
	rows, err := db.Pool.Query(context.Background(),
		`SELECT question_text, option_a, option_b, option_c, option_d, correct_answer, explanation
		 FROM questions WHERE topic_id = $1 AND class = $2 ORDER BY id`, topicID, class)
	if err != nil {
		t.Fatalf("query questions: %v", err)
	}
	defer rows.Close()

	var out []questionRow
	for rows.Next() {
		var r questionRow
		if err := rows.Scan(&r.Text, &r.A, &r.B, &r.C, &r.D, &r.Answer, &r.Explanation); err != nil {
			t.Fatalf("scan: %v", err)
		}
		out = append(out, r)
	}
	return out
}

func request() persist.Request {
	return persist.Request{
		SubjectID:     "math",
		ClassLevel:    "Form 1",
		ChapterNumber: 2,
		ChapterTitle:  "Integers",
		Syllabus:      "KSSM 2024",
		Batches: []mcq.TopicBatch{
			{Topic: "Negative numbers", Items: mcqtest.Items("neg", 10)},
			{Topic: "Ordering", Items: mcqtest.Items("ord", 11)},
		},
	}
}

func TestWriter_PersistIsIdempotent(t *testing.T) {
	db := startDB(t)
	w := persist.NewWriter(db.Pool)
	ctx := context.Background()

	first, err := w.Persist(ctx, request())
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if first.Questions != 21 || len(first.TopicIDs) != 2 {
		t.Fatalf("result = %+v", first)
	}
	before := questions(t, db, first.TopicIDs["Negative numbers"], "Form 1")

	second, err := w.Persist(ctx, request())
	if err != nil {
		t.Fatalf("second Persist() error = %v", err)
	}
	if second.ChapterID != first.ChapterID {
		t.Errorf("ChapterID changed: %d then %d", first.ChapterID, second.ChapterID)
	}
	if second.TopicIDs["Negative numbers"] != first.TopicIDs["Negative numbers"] {
		t.Error("topic was re-created instead of upserted")
	}

	after := questions(t, db, second.TopicIDs["Negative numbers"], "Form 1")
	if len(after) != len(before) || len(after) != 10 {
		t.Fatalf("row count %d then %d, want 10", len(before), len(after))
	}
	for i := range after {
		if after[i] != before[i] {
			t.Errorf("row %d differs after re-run: %+v vs %+v", i, before[i], after[i])
		}
	}
	if after[0].Answer != "A" || after[0].A != "neg right 0" {
		t.Errorf("row 0 = %+v, want correct answer A", after[0])
	}

	var chapters int
	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM chapters`).Scan(&chapters); err != nil {
		t.Fatal(err)
	}
	if chapters != 1 {
		t.Errorf("chapters = %d, want 1", chapters)
	}
}

func TestWriter_MigratesLegacyChapterAndSyllabus(t *testing.T) {
	db := startDB(t)
	ctx := context.Background()

	req := request()
	var legacyID int64
	if err := db.Pool.QueryRow(ctx,
		`INSERT INTO chapters (subject_id, class, chapter_name, syllabus) VALUES ($1, $2, $3, $4) RETURNING id`,
		req.SubjectID, req.ClassLevel, req.LegacyChapterName(), "KSSM 2017",
	).Scan(&legacyID); err != nil {
		t.Fatal(err)
	}

	res, err := persist.NewWriter(db.Pool).Persist(ctx, req)
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if res.ChapterID != legacyID {
		t.Errorf("ChapterID = %d, want legacy row %d", res.ChapterID, legacyID)
	}

	var name, syllabus string
	if err := db.Pool.QueryRow(ctx, `SELECT chapter_name, syllabus FROM chapters WHERE id = $1`, legacyID).Scan(&name, &syllabus); err != nil {
		t.Fatal(err)
	}
	if name != "Integers" {
		t.Errorf("chapter_name = %q, want plain title", name)
	}
	if syllabus != "KSSM 2024" {
		t.Errorf("syllabus = %q, want updated label", syllabus)
	}
}

func TestWriter_RollsBackOnFailure(t *testing.T) {
	db := startDB(t)
	ctx := context.Background()

	req := request()
	bad := mcqtest.Item("bad", 0)
	bad.Options = bad.Options[:2] // not normalized
	req.Batches = append(req.Batches, mcq.TopicBatch{Topic: "Broken", Items: []mcq.Item{bad}})

	_, err := persist.NewWriter(db.Pool).Persist(ctx, req)
	if !persist.IsError(err) {
		t.Fatalf("Persist() error = %v, want *persist.Error", err)
	}

	var n int
	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM questions`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("questions = %d after rollback, want 0", n)
	}
}
