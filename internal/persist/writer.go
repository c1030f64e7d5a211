// Package persist writes validated questions into the question bank.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/p-n-ai/pai-mcq/internal/mcq"
)

const txTimeout = 30 * time.Second

// Error wraps every failure raised while persisting so callers can tell
// storage problems apart from upstream ones.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsError reports whether err came from the persistence writer.
func IsError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Request is one chapter's worth of questions.
type Request struct {
	SubjectID     string
	ClassLevel    string
	ChapterNumber int
	ChapterTitle  string
	Syllabus      string
	Batches       []mcq.TopicBatch
}

// LegacyChapterName is the label older imports stored chapters under.
func (r Request) LegacyChapterName() string {
	return fmt.Sprintf("Chapter %d: %s", r.ChapterNumber, r.ChapterTitle)
}

// Result identifies the rows written.
type Result struct {
	ChapterID int64
	TopicIDs  map[string]int64
	Questions int
}

// TxBeginner starts transactions. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Writer persists question batches in one transaction per call.
type Writer struct {
	db TxBeginner
}

// NewWriter creates a Writer.
func NewWriter(db TxBeginner) *Writer {
	return &Writer{db: db}
}

// Persist resolves the chapter, upserts each topic and replaces its
// questions for the class. Nothing is written unless every step succeeds.
func (w *Writer) Persist(ctx context.Context, req Request) (Result, error) {
	if req.SubjectID == "" || req.ClassLevel == "" || req.ChapterTitle == "" {
		return Result{}, wrap("validate", fmt.Errorf("subject, class and chapter title are required"))
	}

	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	tx, err := w.db.Begin(ctx)
	if err != nil {
		return Result{}, wrap("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	chapterID, err := resolveChapter(ctx, tx, req)
	if err != nil {
		return Result{}, err
	}

	res := Result{ChapterID: chapterID, TopicIDs: make(map[string]int64, len(req.Batches))}
	for _, b := range req.Batches {
		topicID, err := upsertTopic(ctx, tx, req, b.Topic, chapterID)
		if err != nil {
			return Result{}, err
		}
		if err := replaceQuestions(ctx, tx, topicID, req.ClassLevel, b.Items); err != nil {
			return Result{}, err
		}
		res.TopicIDs[b.Topic] = topicID
		res.Questions += len(b.Items)
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, wrap("commit", err)
	}

	slog.Info("questions persisted",
		"chapter_id", chapterID,
		"topics", len(res.TopicIDs),
		"questions", res.Questions,
	)
	return res, nil
}

// resolveChapter finds the chapter by its plain title, then by the legacy
// label (renaming it), and creates it otherwise. The syllabus label is
// brought up to date.
func resolveChapter(ctx context.Context, tx pgx.Tx, req Request) (int64, error) {
	const lookup = `SELECT id, syllabus FROM chapters
		WHERE subject_id = $1 AND class = $2 AND chapter_name = $3
		ORDER BY id LIMIT 1`

	var id int64
	var syllabus string
	err := tx.QueryRow(ctx, lookup, req.SubjectID, req.ClassLevel, req.ChapterTitle).Scan(&id, &syllabus)
	if errors.Is(err, pgx.ErrNoRows) {
		err = tx.QueryRow(ctx, lookup, req.SubjectID, req.ClassLevel, req.LegacyChapterName()).Scan(&id, &syllabus)
		if err == nil {
			if _, err := tx.Exec(ctx,
				`UPDATE chapters SET chapter_name = $1 WHERE id = $2`,
				req.ChapterTitle, id,
			); err != nil {
				return 0, wrap("migrate chapter", err)
			}
			slog.Info("migrated legacy chapter label", "chapter_id", id, "from", req.LegacyChapterName(), "to", req.ChapterTitle)
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if err := tx.QueryRow(ctx,
			`INSERT INTO chapters (subject_id, class, chapter_name, syllabus)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id`,
			req.SubjectID, req.ClassLevel, req.ChapterTitle, req.Syllabus,
		).Scan(&id); err != nil {
			return 0, wrap("insert chapter", err)
		}
		return id, nil
	}
	if err != nil {
		return 0, wrap("find chapter", err)
	}

	if req.Syllabus != "" && req.Syllabus != syllabus {
		if _, err := tx.Exec(ctx, `UPDATE chapters SET syllabus = $1 WHERE id = $2`, req.Syllabus, id); err != nil {
			return 0, wrap("update syllabus", err)
		}
	}
	return id, nil
}

func upsertTopic(ctx context.Context, tx pgx.Tx, req Request, name string, chapterID int64) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx,
		`INSERT INTO topics (subject_id, name, class, chapter_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (subject_id, name, class) DO UPDATE SET chapter_id = EXCLUDED.chapter_id
		 RETURNING id`,
		req.SubjectID, name, req.ClassLevel, chapterID,
	).Scan(&id)
	if err != nil {
		return 0, wrap("upsert topic "+name, err)
	}
	return id, nil
}

func replaceQuestions(ctx context.Context, tx pgx.Tx, topicID int64, class string, items []mcq.Item) error {
	if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE topic_id = $1 AND class = $2`, topicID, class); err != nil {
		return wrap("delete questions", err)
	}
	if len(items) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, it := range items {
		letter := it.CorrectLetter()
		if letter == "" || len(it.Options) != mcq.OptionCount {
			return wrap("insert questions", fmt.Errorf("question %q is not normalized", it.Question))
		}
		batch.Queue(
			`INSERT INTO questions
			   (topic_id, class, question_text, option_a, option_b, option_c, option_d, correct_answer, explanation)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			topicID, class, it.Question,
			it.Options[0], it.Options[1], it.Options[2], it.Options[3],
			letter, it.Explanation,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range items {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return wrap("insert questions", err)
		}
	}
	if err := br.Close(); err != nil {
		return wrap("insert questions", err)
	}
	return nil
}
