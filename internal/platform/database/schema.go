package database

// schema is the question bank DDL: chapters own topics, topics own questions.
// A topic is unique per (subject_id, name, class).
var schema = []string{
	`CREATE TABLE IF NOT EXISTS chapters (
		id           BIGSERIAL PRIMARY KEY,
		subject_id   TEXT NOT NULL,
		class        TEXT NOT NULL,
		chapter_name TEXT NOT NULL,
		syllabus     TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS chapters_lookup_idx
		ON chapters (subject_id, class, chapter_name)`,
	`CREATE TABLE IF NOT EXISTS topics (
		id         BIGSERIAL PRIMARY KEY,
		subject_id TEXT NOT NULL,
		name       TEXT NOT NULL,
		class      TEXT NOT NULL,
		chapter_id BIGINT NOT NULL REFERENCES chapters(id),
		UNIQUE (subject_id, name, class)
	)`,
	`CREATE TABLE IF NOT EXISTS questions (
		id             BIGSERIAL PRIMARY KEY,
		topic_id       BIGINT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
		class          TEXT NOT NULL,
		question_text  TEXT NOT NULL,
		option_a       TEXT NOT NULL,
		option_b       TEXT NOT NULL,
		option_c       TEXT NOT NULL,
		option_d       TEXT NOT NULL,
		correct_answer CHAR(1) NOT NULL CHECK (correct_answer IN ('A', 'B', 'C', 'D')),
		explanation    TEXT NOT NULL DEFAULT '',
		image_url      TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS questions_topic_class_idx
		ON questions (topic_id, class)`,
}
