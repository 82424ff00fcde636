package pindex

// SQL query constants, grouped by table, kept as package-level constants
// rather than inline literals.

const (
	sqlUpsertDir = `INSERT INTO dir
		(device, uid, parent_uid, name, path, all_children_fetched, is_live, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device, uid) DO UPDATE SET
			parent_uid = excluded.parent_uid,
			name = excluded.name,
			path = excluded.path,
			all_children_fetched = excluded.all_children_fetched,
			is_live = excluded.is_live,
			updated_at = excluded.updated_at`

	sqlGetDir = `SELECT device, uid, parent_uid, name, path, all_children_fetched,
		is_live, created_at, updated_at FROM dir WHERE device = ? AND uid = ?`

	sqlDeleteDir = `DELETE FROM dir WHERE device = ? AND uid = ?`

	sqlListDirChildren = `SELECT device, uid, parent_uid, name, path, all_children_fetched,
		is_live, created_at, updated_at FROM dir WHERE device = ? AND parent_uid = ?`

	sqlMarkDirLiveness = `UPDATE dir SET is_live = ?, updated_at = ? WHERE device = ? AND uid = ?`
)

const (
	sqlUpsertFile = `INSERT INTO file
		(device, uid, parent_uid, name, path, size, mtime, hash, hash_algo, is_live, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device, uid) DO UPDATE SET
			parent_uid = excluded.parent_uid,
			name = excluded.name,
			path = excluded.path,
			size = excluded.size,
			mtime = excluded.mtime,
			hash = excluded.hash,
			hash_algo = excluded.hash_algo,
			is_live = excluded.is_live,
			updated_at = excluded.updated_at`

	sqlGetFile = `SELECT device, uid, parent_uid, name, path, size, mtime, hash, hash_algo,
		is_live, created_at, updated_at FROM file WHERE device = ? AND uid = ?`

	sqlDeleteFile = `DELETE FROM file WHERE device = ? AND uid = ?`

	sqlListFileChildren = `SELECT device, uid, parent_uid, name, path, size, mtime, hash, hash_algo,
		is_live, created_at, updated_at FROM file WHERE device = ? AND parent_uid = ?`

	sqlMarkFileLiveness = `UPDATE file SET is_live = ?, updated_at = ? WHERE device = ? AND uid = ?`
)

const (
	sqlUpsertCloudDir = `INSERT INTO cloud_dir
		(device, uid, external_id, name, all_children_fetched, is_live, etag, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device, uid) DO UPDATE SET
			external_id = excluded.external_id,
			name = excluded.name,
			all_children_fetched = excluded.all_children_fetched,
			is_live = excluded.is_live,
			etag = excluded.etag,
			updated_at = excluded.updated_at`

	sqlGetCloudDir = `SELECT device, uid, external_id, name, all_children_fetched, is_live,
		etag, created_at, updated_at FROM cloud_dir WHERE device = ? AND uid = ?`

	sqlDeleteCloudDir = `DELETE FROM cloud_dir WHERE device = ? AND uid = ?`

	sqlMarkCloudDirLiveness = `UPDATE cloud_dir SET is_live = ?, updated_at = ? WHERE device = ? AND uid = ?`

	sqlListCloudDirs = `SELECT device, uid, external_id, name, all_children_fetched, is_live,
		etag, created_at, updated_at FROM cloud_dir WHERE device = ?`

	sqlMarkCloudDirChildrenFetched = `UPDATE cloud_dir SET all_children_fetched = 1, updated_at = ? WHERE device = ? AND uid = ?`
)

const (
	sqlUpsertCloudFile = `INSERT INTO cloud_file
		(device, uid, external_id, name, size, mtime, hash, hash_algo, etag, is_live, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device, uid) DO UPDATE SET
			external_id = excluded.external_id,
			name = excluded.name,
			size = excluded.size,
			mtime = excluded.mtime,
			hash = excluded.hash,
			hash_algo = excluded.hash_algo,
			etag = excluded.etag,
			is_live = excluded.is_live,
			updated_at = excluded.updated_at`

	sqlGetCloudFile = `SELECT device, uid, external_id, name, size, mtime, hash, hash_algo,
		etag, is_live, created_at, updated_at FROM cloud_file WHERE device = ? AND uid = ?`

	sqlDeleteCloudFile = `DELETE FROM cloud_file WHERE device = ? AND uid = ?`

	sqlMarkCloudFileLiveness = `UPDATE cloud_file SET is_live = ?, updated_at = ? WHERE device = ? AND uid = ?`
)

const (
	sqlUpsertParentEdge = `INSERT INTO id_parent_mapping
		(device, child_uid, node_kind, parent_uid, path_index)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device, child_uid, parent_uid) DO UPDATE SET
			node_kind = excluded.node_kind,
			path_index = excluded.path_index`

	sqlDeleteParentEdgesForChild = `DELETE FROM id_parent_mapping WHERE device = ? AND child_uid = ?`

	sqlListParentsOf = `SELECT device, child_uid, node_kind, parent_uid, path_index
		FROM id_parent_mapping WHERE device = ? AND child_uid = ? ORDER BY path_index`

	sqlListChildrenOf = `SELECT device, child_uid, node_kind, parent_uid, path_index
		FROM id_parent_mapping WHERE device = ? AND parent_uid = ?`
)

const (
	sqlUpsertUIDMapping = `INSERT INTO uid_registry (device, external_key, uid, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device, external_key) DO UPDATE SET uid = excluded.uid`

	sqlGetUIDByKey = `SELECT uid FROM uid_registry WHERE device = ? AND external_key = ?`

	sqlGetKeyByUID = `SELECT external_key FROM uid_registry WHERE device = ? AND uid = ?`

	sqlGetNextUID = `SELECT next_uid FROM main_registry WHERE device = ?`

	sqlAdvanceNextUID = `INSERT INTO main_registry (device, next_uid) VALUES (?, ?)
		ON CONFLICT(device) DO UPDATE SET
			next_uid = CASE WHEN excluded.next_uid > main_registry.next_uid
				THEN excluded.next_uid ELSE main_registry.next_uid END`
)

const (
	sqlGetDownloadState = `SELECT device, state, page_token, change_token, started_at, updated_at
		FROM current_download WHERE device = ?`

	sqlUpsertDownloadState = `INSERT INTO current_download
		(device, state, page_token, change_token, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(device) DO UPDATE SET
			state = excluded.state,
			page_token = excluded.page_token,
			change_token = excluded.change_token,
			updated_at = excluded.updated_at`
)

const (
	sqlUpsertUploadSession = `INSERT INTO upload_session
		(device, path, upload_url, size, bytes_sent, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device, path) DO UPDATE SET
			upload_url = excluded.upload_url,
			size = excluded.size,
			bytes_sent = excluded.bytes_sent,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`

	sqlGetUploadSession = `SELECT device, path, upload_url, size, bytes_sent, expires_at, created_at, updated_at
		FROM upload_session WHERE device = ? AND path = ?`

	sqlDeleteUploadSession = `DELETE FROM upload_session WHERE device = ? AND path = ?`

	sqlListExpiredUploads = `SELECT device, path, upload_url, size, bytes_sent, expires_at, created_at, updated_at
		FROM upload_session WHERE expires_at < ?`
)

const (
	sqlUpsertConflict = `INSERT INTO conflicts
		(id, left_device, left_uid, right_device, right_uid, path, category, detected_at, resolved, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NULL)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			category = excluded.category,
			detected_at = excluded.detected_at`

	sqlListConflicts = `SELECT id, left_device, left_uid, right_device, right_uid, path, category,
		detected_at, resolved, resolved_at FROM conflicts WHERE resolved = ? ORDER BY detected_at`

	sqlResolveConflict = `UPDATE conflicts SET resolved = 1, resolved_at = ? WHERE id = ?`
)

const (
	sqlRecordStaleFile = `INSERT INTO stale_file
		(id, device, path, reason, size, detected_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(device, path) DO UPDATE SET
			reason = excluded.reason,
			size = excluded.size,
			detected_at = excluded.detected_at`

	sqlListStaleFiles = `SELECT id, device, path, reason, size, detected_at
		FROM stale_file ORDER BY detected_at`

	sqlRemoveStaleFile = `DELETE FROM stale_file WHERE id = ?`

	sqlGetFileByPath = `SELECT device, uid, parent_uid, name, path, size, mtime, hash, hash_algo,
		is_live, created_at, updated_at FROM file WHERE device = ? AND path = ?`

	sqlCountLiveItems = `SELECT
		(SELECT COUNT(*) FROM file WHERE is_live = 1) +
		(SELECT COUNT(*) FROM cloud_file WHERE is_live = 1)`
)
