package role

import (
	"context"
	"database/sql"
	"strings"
	"unicode/utf8"
)

// Encoding-corrupted role rows come from earlier deployments that wrote
// UTF-8 role names through a Latin-1 connection, producing mojibake
// duplicates of the built-in roles. unmangleName reverses the damage by
// reinterpreting the runes as raw bytes and decoding them as UTF-8.

// FixOrphanedRoleReferences is the one-shot startup reconciliation pass. It
// first remaps memories pointing at encoding-corrupted role rows to the
// canonical role and deletes the corrupted rows, then re-infers a role for
// memories whose role_id references no existing role. Repair is best-effort:
// individual failures are logged and skipped, never aborting the pass.
func (r *Resolver) FixOrphanedRoleReferences(ctx context.Context) {
	if err := r.cleanCorruptedRoles(ctx); err != nil {
		r.log.Warn("corrupted role cleanup incomplete", "error", err)
	}

	if err := r.repairOrphanedMemories(ctx); err != nil {
		r.log.Warn("orphaned memory repair incomplete", "error", err)
	}
}

// cleanCorruptedRoles finds role rows whose name is a known mojibake variant
// of a built-in role, or a stale duplicate of one, repoints memories at the
// canonical row, and deletes the bad row.
func (r *Resolver) cleanCorruptedRoles(ctx context.Context) error {
	type roleRow struct {
		id   int64
		name string
	}

	var all []roleRow
	err := r.db.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var row roleRow
			if err := rows.Scan(&row.id, &row.name); err != nil {
				return err
			}
			all = append(all, row)
		}
		return nil
	}, "SELECT id, name FROM role ORDER BY id")
	if err != nil {
		return err
	}

	// Old id -> canonical name it should have been.
	remap := make(map[int64]string)

	newestByName := make(map[string]int64)
	for _, row := range all {
		if row.id > newestByName[row.name] {
			newestByName[row.name] = row.id
		}
	}

	for _, row := range all {
		if canonical, ok := r.corruptedName(row.name); ok {
			remap[row.id] = canonical
			continue
		}

		// Intact legacy names migrate to the canonical built-in role.
		if canonical, ok := legacyNames[row.name]; ok && canonical != row.name {
			remap[row.id] = canonical
			continue
		}

		// Stale duplicates of a built-in name: keep the newest row.
		if (row.name == UserRoleName || row.name == AssistantRoleName) &&
			newestByName[row.name] > row.id {
			remap[row.id] = row.name
		}
	}

	for oldID, name := range remap {
		canonical, err := r.GetRoleByName(ctx, name)
		if err != nil {
			r.log.Warn("skipping corrupted role", "id", oldID, "error", err)
			continue
		}
		if canonical == nil || canonical.ID == oldID {
			canonical, err = r.CreateRole(ctx, name, "")
			if err != nil {
				r.log.Warn("skipping corrupted role", "id", oldID, "error", err)
				continue
			}
		}

		if _, err := r.db.Exec(ctx,
			"UPDATE memory SET role_id = ? WHERE role_id = ?", canonical.ID, oldID); err != nil {
			r.log.Warn("could not repoint memories off corrupted role",
				"old_id", oldID, "error", err)
			continue
		}

		if _, err := r.db.Exec(ctx, "DELETE FROM role WHERE id = ?", oldID); err != nil {
			r.log.Warn("could not delete corrupted role", "id", oldID, "error", err)
			continue
		}

		r.log.Info("remapped corrupted role", "old_id", oldID,
			"new_id", canonical.ID, "name", name)
	}

	return nil
}

// legacyNames maps role names used by earlier deployments to the canonical
// built-in names. The legacy writers labeled participants in Chinese.
var legacyNames = map[string]string{
	"用户":      UserRoleName,
	"助手":      AssistantRoleName,
	UserRoleName:      UserRoleName,
	AssistantRoleName: AssistantRoleName,
}

// corruptedName reports whether a role name is mojibake and, when reversing
// the damage recovers a known role name, the canonical name it stood for.
func (r *Resolver) corruptedName(name string) (string, bool) {
	if utf8.ValidString(name) && !hasMojibakeRunes(name) {
		return "", false
	}

	if canonical, ok := legacyNames[unmangleName(name)]; ok {
		return canonical, true
	}

	// Damaged beyond recognition; leave the row alone rather than guess.
	return "", false
}

// hasMojibakeRunes detects the Latin-1 supplement runes that UTF-8
// multi-byte sequences decode to when misread one byte at a time.
func hasMojibakeRunes(name string) bool {
	for _, r := range name {
		if r >= 0x80 && r <= 0xFF {
			return true
		}
	}
	return false
}

// unmangleName reinterprets each rune as a raw byte and decodes the result
// as UTF-8. Returns "" when the name is not recoverable this way.
func unmangleName(name string) string {
	buf := make([]byte, 0, len(name))
	for _, r := range name {
		if r > 0xFF {
			return ""
		}
		buf = append(buf, byte(r))
	}

	if !utf8.Valid(buf) {
		return ""
	}

	return string(buf)
}

// repairOrphanedMemories re-infers a role for every memory whose role_id
// points at a non-existent role row, using the tag heuristic on the stored
// text. When nothing can be inferred the reference is cleared to NULL.
func (r *Resolver) repairOrphanedMemories(ctx context.Context) error {
	type orphan struct {
		id   string
		text string
	}

	var orphans []orphan
	err := r.db.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var o orphan
			if err := rows.Scan(&o.id, &o.text); err != nil {
				return err
			}
			orphans = append(orphans, o)
		}
		return nil
	}, `
		SELECT m.id, m.memory_text
		FROM memory m
		LEFT JOIN role r ON m.role_id = r.id
		WHERE m.role_id IS NOT NULL AND r.id IS NULL`)
	if err != nil {
		return err
	}

	if len(orphans) == 0 {
		return nil
	}

	r.log.Info("repairing orphaned role references", "count", len(orphans))

	for _, o := range orphans {
		inferred := r.inferRoleName(o.text)

		if inferred == "" {
			if _, err := r.db.Exec(ctx,
				"UPDATE memory SET role_id = NULL WHERE id = ?", o.id); err != nil {
				r.log.Warn("could not clear orphaned role reference",
					"memory_id", o.id, "error", err)
			}
			continue
		}

		role, err := r.GetRoleByName(ctx, inferred)
		if err != nil || role == nil {
			r.log.Warn("could not resolve inferred role",
				"memory_id", o.id, "role", inferred, "error", err)
			continue
		}

		if _, err := r.db.Exec(ctx,
			"UPDATE memory SET role_id = ? WHERE id = ?", role.ID, o.id); err != nil {
			r.log.Warn("could not repair orphaned role reference",
				"memory_id", o.id, "error", err)
			continue
		}

		r.log.Debug("repaired orphaned role reference",
			"memory_id", o.id, "role_id", role.ID)
	}

	return nil
}

// inferRoleName applies the tag heuristic to stored text. Returns "" when no
// role can be inferred.
func (r *Resolver) inferRoleName(text string) string {
	switch {
	case strings.HasPrefix(text, userTag):
		return UserRoleName
	case strings.HasPrefix(text, assistantTag):
		return AssistantRoleName
	default:
		return ""
	}
}
