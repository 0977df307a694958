package database

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                  BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		email               VARCHAR(255) NOT NULL,
		name                VARCHAR(255) NOT NULL DEFAULT '',
		password_hash       VARCHAR(255) NOT NULL,
		role                VARCHAR(32) NOT NULL,
		sub_role            VARCHAR(32) NULL,
		consultancy_id      BIGINT UNSIGNED NULL,
		is_active           TINYINT(1) NOT NULL DEFAULT 1,
		login_attempts      INT NOT NULL DEFAULT 0,
		lock_until          DATETIME NULL,
		last_failed_login   DATETIME NULL,
		password_changed_at DATETIME NULL,
		reset_token_hash    CHAR(64) NULL,
		reset_token_expires DATETIME NULL,
		created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uq_users_email (email),
		KEY idx_users_reset (reset_token_hash),
		KEY idx_users_consultancy (consultancy_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id                CHAR(36) NOT NULL PRIMARY KEY,
		user_id           BIGINT UNSIGNED NOT NULL,
		family_id         CHAR(36) NOT NULL,
		token_hash        CHAR(64) NOT NULL,
		expires_at        DATETIME NOT NULL,
		created_by_ip     VARCHAR(64) NOT NULL DEFAULT '',
		user_agent        VARCHAR(512) NOT NULL DEFAULT '',
		is_revoked        TINYINT(1) NOT NULL DEFAULT 0,
		revoked_at        DATETIME NULL,
		revoked_by_ip     VARCHAR(64) NULL,
		revoked_reason    VARCHAR(32) NULL,
		replaced_by_token CHAR(36) NULL,
		created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_refresh_tokens_hash (token_hash),
		KEY idx_refresh_tokens_user (user_id, is_revoked),
		KEY idx_refresh_tokens_family (family_id),
		KEY idx_refresh_tokens_expires (expires_at),
		KEY idx_refresh_tokens_created (created_at),
		CONSTRAINT fk_refresh_tokens_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id               CHAR(36) NOT NULL PRIMARY KEY,
		user_id          BIGINT UNSIGNED NOT NULL,
		refresh_token_id CHAR(36) NOT NULL,
		ip               VARCHAR(64) NOT NULL DEFAULT '',
		user_agent       VARCHAR(512) NOT NULL DEFAULT '',
		browser          VARCHAR(64) NOT NULL DEFAULT '',
		os               VARCHAR(64) NOT NULL DEFAULT '',
		device_type      VARCHAR(16) NOT NULL DEFAULT 'unknown',
		last_activity    DATETIME NOT NULL,
		is_active        TINYINT(1) NOT NULL DEFAULT 1,
		expires_at       DATETIME NOT NULL,
		ended_at         DATETIME NULL,
		end_reason       VARCHAR(32) NULL,
		created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_sessions_refresh_token (refresh_token_id),
		KEY idx_sessions_user_active (user_id, is_active),
		KEY idx_sessions_last_activity (last_activity),
		KEY idx_sessions_created (created_at),
		CONSTRAINT fk_sessions_refresh_token FOREIGN KEY (refresh_token_id) REFERENCES refresh_tokens(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id            CHAR(26) NOT NULL PRIMARY KEY,
		user_id       BIGINT UNSIGNED NULL,
		user_email    VARCHAR(255) NULL,
		action        VARCHAR(48) NOT NULL,
		resource      VARCHAR(64) NULL,
		resource_id   VARCHAR(64) NULL,
		method        VARCHAR(8) NULL,
		endpoint      VARCHAR(255) NULL,
		ip            VARCHAR(64) NULL,
		user_agent    VARCHAR(512) NULL,
		status        VARCHAR(16) NOT NULL,
		status_code   INT NULL,
		details       JSON NULL,
		error_message VARCHAR(1024) NULL,
		created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY idx_audit_user_created (user_id, created_at),
		KEY idx_audit_action_created (action, created_at),
		KEY idx_audit_created (created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}
