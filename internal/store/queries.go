package store

// Connection profile queries
const (
	queryGetProfile = `
		SELECT host, port, username, password, private_key_path,
		       connect_timeout_ns, keep_alive_interval_ns, reconnect_attempts, reconnect_backoff_ns,
		       created_at, updated_at
		FROM connection_profiles WHERE id = 1`

	queryUpsertProfile = `
		INSERT INTO connection_profiles (id, host, port, username, password, private_key_path,
			connect_timeout_ns, keep_alive_interval_ns, reconnect_attempts, reconnect_backoff_ns, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, now())
		ON CONFLICT (id) DO UPDATE SET
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			username = EXCLUDED.username,
			password = EXCLUDED.password,
			private_key_path = EXCLUDED.private_key_path,
			connect_timeout_ns = EXCLUDED.connect_timeout_ns,
			keep_alive_interval_ns = EXCLUDED.keep_alive_interval_ns,
			reconnect_attempts = EXCLUDED.reconnect_attempts,
			reconnect_backoff_ns = EXCLUDED.reconnect_backoff_ns,
			updated_at = now()`

	queryDeleteProfile = `DELETE FROM connection_profiles WHERE id = 1`
)

// Job history queries
const (
	queryInsertJob = `
		INSERT INTO jobs (id, status, phase, compress, delete_after_collect, destination_root,
			total_files, collected_files, failed_files, transferred_bytes, total_bytes,
			started_at, finished_at, sources, filter, selected_paths, artifacts, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetJob = `
		SELECT id, status, phase, compress, delete_after_collect, destination_root,
		       total_files, collected_files, failed_files, transferred_bytes, total_bytes,
		       started_at, finished_at, sources, filter, selected_paths, artifacts, errors
		FROM jobs WHERE id = ?`

	queryListJobs = `
		SELECT id, status, phase, compress, delete_after_collect, destination_root,
		       total_files, collected_files, failed_files, transferred_bytes, total_bytes,
		       started_at, finished_at, sources, filter, selected_paths, artifacts, errors
		FROM jobs ORDER BY started_at DESC LIMIT ?`
)
