package repository

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS notifications (
        seq         BIGSERIAL PRIMARY KEY,
        id          TEXT        NOT NULL UNIQUE,
        user_id     TEXT        NOT NULL,
        title       TEXT        NOT NULL,
        body        TEXT,
        type        TEXT,
        severity    TEXT,
        navigate_to TEXT,
        metadata    JSONB,
        is_read     BOOLEAN     NOT NULL DEFAULT FALSE,
        read_at     TIMESTAMPTZ,
        created_at  TIMESTAMPTZ NOT NULL,
        updated_at  TIMESTAMPTZ NOT NULL,
        CONSTRAINT notifications_read_state CHECK (is_read = (read_at IS NOT NULL))
    )`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user_created
        ON notifications (user_id, created_at DESC, seq DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user_unread
        ON notifications (user_id, seq) WHERE is_read = FALSE`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS notifications (
        seq         INTEGER PRIMARY KEY AUTOINCREMENT,
        id          TEXT     NOT NULL UNIQUE,
        user_id     TEXT     NOT NULL,
        title       TEXT     NOT NULL,
        body        TEXT,
        type        TEXT,
        severity    TEXT,
        navigate_to TEXT,
        metadata    TEXT,
        is_read     BOOLEAN  NOT NULL DEFAULT 0,
        read_at     DATETIME,
        created_at  DATETIME NOT NULL,
        updated_at  DATETIME NOT NULL,
        CHECK ((is_read = 0 AND read_at IS NULL) OR (is_read = 1 AND read_at IS NOT NULL))
    )`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user_created
        ON notifications (user_id, created_at DESC, seq DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user_unread
        ON notifications (user_id, seq) WHERE is_read = 0`,
}
