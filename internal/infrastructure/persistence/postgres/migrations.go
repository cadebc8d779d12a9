package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: REFERENCE TABLES
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create reference tables
-- Version: 001
-- Owned by the CRUD layer; the aggregation engine only reads them.

CREATE TABLE IF NOT EXISTS school_years (
    school_year_code VARCHAR(30) PRIMARY KEY,
    name VARCHAR(100) NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS terms (
    term_code VARCHAR(30) PRIMARY KEY,
    name VARCHAR(100) NOT NULL DEFAULT '',
    school_year_code VARCHAR(30) NOT NULL REFERENCES school_years(school_year_code),
    start_date DATE,
    end_date DATE,

    CONSTRAINT valid_term_dates CHECK (start_date IS NULL OR end_date IS NULL OR start_date <= end_date)
);

CREATE TABLE IF NOT EXISTS grades (
    grade_code VARCHAR(30) PRIMARY KEY,
    name VARCHAR(100) NOT NULL DEFAULT '',
    school_year_code VARCHAR(30) NOT NULL REFERENCES school_years(school_year_code)
);

CREATE TABLE IF NOT EXISTS classrooms (
    classroom_code VARCHAR(30) PRIMARY KEY,
    name VARCHAR(100) NOT NULL DEFAULT '',
    grade_code VARCHAR(30) REFERENCES grades(grade_code)
);

CREATE TABLE IF NOT EXISTS students (
    student_code VARCHAR(30) PRIMARY KEY,
    name VARCHAR(150) NOT NULL DEFAULT '',
    classroom_code VARCHAR(30) REFERENCES classrooms(classroom_code)
);

CREATE TABLE IF NOT EXISTS subjects (
    subject_code VARCHAR(30) PRIMARY KEY,
    name VARCHAR(100) NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS exams (
    exam_code VARCHAR(30) PRIMARY KEY,
    subject_code VARCHAR(30) NOT NULL REFERENCES subjects(subject_code),
    term_code VARCHAR(30) NOT NULL REFERENCES terms(term_code),
    exam_date DATE
);

CREATE INDEX IF NOT EXISTS idx_terms_school_year ON terms(school_year_code);
CREATE INDEX IF NOT EXISTS idx_classrooms_grade ON classrooms(grade_code);
CREATE INDEX IF NOT EXISTS idx_students_classroom ON students(classroom_code);
CREATE INDEX IF NOT EXISTS idx_exams_subject_term ON exams(subject_code, term_code);
`

const migration001Down = `
DROP TABLE IF EXISTS exams;
DROP TABLE IF EXISTS subjects;
DROP TABLE IF EXISTS students;
DROP TABLE IF EXISTS classrooms;
DROP TABLE IF EXISTS grades;
DROP TABLE IF EXISTS terms;
DROP TABLE IF EXISTS school_years;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: SCORES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create scores table
-- Version: 002

CREATE TABLE IF NOT EXISTS scores (
    student_code VARCHAR(30) NOT NULL REFERENCES students(student_code),
    exam_code VARCHAR(30) NOT NULL REFERENCES exams(exam_code),
    score_value DOUBLE PRECISION NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (student_code, exam_code),
    CONSTRAINT valid_score CHECK (score_value >= 0 AND score_value <= 10)
);

CREATE INDEX IF NOT EXISTS idx_scores_exam ON scores(exam_code);
`

const migration002Down = `
DROP TABLE IF EXISTS scores;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: AVERAGES
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create cached average tables
-- Version: 003
-- Every row is reproducible from scores; ranks are dense per cohort.

CREATE TABLE IF NOT EXISTS subject_term_averages (
    student_code VARCHAR(30) NOT NULL,
    subject_code VARCHAR(30) NOT NULL,
    term_code VARCHAR(30) NOT NULL,
    average DOUBLE PRECISION NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (student_code, subject_code, term_code)
);

CREATE TABLE IF NOT EXISTS student_term_averages (
    student_code VARCHAR(30) NOT NULL,
    term_code VARCHAR(30) NOT NULL,
    average DOUBLE PRECISION NOT NULL,
    performance_tier VARCHAR(20) NOT NULL,
    classroom_rank INTEGER,
    grade_rank INTEGER,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (student_code, term_code),
    CONSTRAINT valid_term_tier CHECK (performance_tier IN ('Excellent', 'Good', 'Average', 'Weak'))
);

CREATE TABLE IF NOT EXISTS subject_yearly_averages (
    student_code VARCHAR(30) NOT NULL,
    subject_code VARCHAR(30) NOT NULL,
    school_year_code VARCHAR(30) NOT NULL,
    average DOUBLE PRECISION NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (student_code, subject_code, school_year_code)
);

CREATE TABLE IF NOT EXISTS student_yearly_averages (
    student_code VARCHAR(30) NOT NULL,
    school_year_code VARCHAR(30) NOT NULL,
    average DOUBLE PRECISION NOT NULL,
    performance_tier VARCHAR(20) NOT NULL,
    classroom_rank INTEGER,
    grade_rank INTEGER,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (student_code, school_year_code),
    CONSTRAINT valid_year_tier CHECK (performance_tier IN ('Excellent', 'Good', 'Average', 'Weak'))
);

-- Cohort reads filter by period first
CREATE INDEX IF NOT EXISTS idx_student_term_averages_term ON student_term_averages(term_code, average DESC, student_code);
CREATE INDEX IF NOT EXISTS idx_student_yearly_averages_year ON student_yearly_averages(school_year_code, average DESC, student_code);
`

const migration003Down = `
DROP TABLE IF EXISTS student_yearly_averages;
DROP TABLE IF EXISTS subject_yearly_averages;
DROP TABLE IF EXISTS student_term_averages;
DROP TABLE IF EXISTS subject_term_averages;
`

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_reference_tables", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_scores", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_averages", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}
