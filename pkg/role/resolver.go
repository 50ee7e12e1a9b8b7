// Package role resolves conversational participant identities.
//
// A role is resolved from either an explicit tag prefix on the memory text
// ("[user] ...", "[assistant] ...") or an acoustic fingerprint hash captured
// by the surrounding application. Fingerprints are the stronger signal: a
// fingerprint match wins over a tag-derived default role. Roles are created
// lazily on first sight and never deleted.
package role

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/mnemohq/mnemo/pkg/logger"
	"github.com/mnemohq/mnemo/pkg/memory"
	"github.com/mnemohq/mnemo/pkg/relational"
)

const (
	// UserRoleName is the built-in role for the human participant.
	UserRoleName = "user"

	// AssistantRoleName is the built-in role for the agent.
	AssistantRoleName = "assistant"

	userTag      = "[user]"
	assistantTag = "[assistant]"
)

// Resolver maps text tags and voice fingerprints to stable roles, sharing
// the relational connection handle with the rest of the system.
type Resolver struct {
	db  *relational.DB
	log *slog.Logger
}

// NewResolver creates a resolver and guarantees the built-in roles exist.
func NewResolver(ctx context.Context, db *relational.DB, log *slog.Logger) (*Resolver, error) {
	if log == nil {
		log = logger.Nop()
	}

	r := &Resolver{db: db, log: log}
	if err := r.ensureDefaultRoles(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

// ensureDefaultRoles creates the built-in "user" and "assistant" roles when
// absent. Runs at construction so tag parsing always has a target.
func (r *Resolver) ensureDefaultRoles(ctx context.Context) error {
	for _, name := range []string{UserRoleName, AssistantRoleName} {
		existing, err := r.GetRoleByName(ctx, name)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}

		created, err := r.CreateRole(ctx, name, "")
		if err != nil {
			return err
		}
		r.log.Info("created default role", "name", name, "id", created.ID)
	}

	return nil
}

// ParseRoleFromText recognizes an explicit role-tag prefix, strips it, and
// returns the cleaned text with the matching built-in role. Text without a
// recognized tag comes back unchanged with a nil role.
func (r *Resolver) ParseRoleFromText(ctx context.Context, text string) (string, *memory.Role, error) {
	var (
		tag  string
		name string
	)

	switch {
	case strings.HasPrefix(text, userTag):
		tag, name = userTag, UserRoleName
	case strings.HasPrefix(text, assistantTag):
		tag, name = assistantTag, AssistantRoleName
	default:
		return text, nil, nil
	}

	clean := strings.TrimSpace(strings.TrimPrefix(text, tag))

	role, err := r.GetRoleByName(ctx, name)
	if err != nil {
		return text, nil, err
	}
	if role == nil {
		role, err = r.CreateRole(ctx, name, "")
		if err != nil {
			return text, nil, err
		}
	}

	return clean, role, nil
}

// IdentifyRoleByVoice looks up a role by exact fingerprint match. Returns
// nil, nil when no role holds the fingerprint.
func (r *Resolver) IdentifyRoleByVoice(ctx context.Context, voiceHash string) (*memory.Role, error) {
	if voiceHash == "" {
		return nil, nil
	}

	return r.queryOne(ctx,
		"SELECT id, name, voice_hash FROM role WHERE voice_hash = ?", voiceHash)
}

// GetRoleByName looks up a role by its unique name. Returns nil, nil when
// absent.
func (r *Resolver) GetRoleByName(ctx context.Context, name string) (*memory.Role, error) {
	return r.queryOne(ctx,
		"SELECT id, name, voice_hash FROM role WHERE name = ?", name)
}

// CreateRole inserts a new role. If the name already exists the existing
// role is returned instead, making creation idempotent per name.
func (r *Resolver) CreateRole(ctx context.Context, name, voiceHash string) (*memory.Role, error) {
	var vh any
	if voiceHash != "" {
		vh = voiceHash
	}

	id, err := r.db.ExecReturningID(ctx,
		"INSERT INTO role (name, voice_hash) VALUES (?, ?)", name, vh)
	if err != nil {
		// Likely a unique-name collision with a concurrent creator.
		existing, gerr := r.GetRoleByName(ctx, name)
		if gerr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}

	return &memory.Role{ID: id, Name: name, VoiceHash: voiceHash}, nil
}

// CreateRoleIfNotExists resolves a fingerprint to its role, creating one
// under defaultName when no role holds the fingerprint yet.
func (r *Resolver) CreateRoleIfNotExists(ctx context.Context, voiceHash, defaultName string) (*memory.Role, error) {
	existing, err := r.IdentifyRoleByVoice(ctx, voiceHash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if defaultName == "" {
		suffix := voiceHash
		if len(suffix) > 8 {
			suffix = suffix[:8]
		}
		defaultName = "speaker_" + suffix
	}

	created, err := r.CreateRole(ctx, defaultName, voiceHash)
	if err != nil {
		return nil, err
	}

	r.log.Info("created role for new voice fingerprint",
		"name", defaultName, "id", created.ID)
	return created, nil
}

// UpdateRoleVoiceHash attaches a fingerprint to an existing role. Whether an
// existing non-empty fingerprint should be replaced is the caller's policy;
// this only performs the write.
func (r *Resolver) UpdateRoleVoiceHash(ctx context.Context, roleID int64, voiceHash string) error {
	_, err := r.db.Exec(ctx,
		"UPDATE role SET voice_hash = ? WHERE id = ?", voiceHash, roleID)
	return err
}

func (r *Resolver) queryOne(ctx context.Context, query string, args ...any) (*memory.Role, error) {
	var role *memory.Role

	err := r.db.Query(ctx, func(rows *sql.Rows) error {
		if !rows.Next() {
			return nil
		}

		var (
			rl        memory.Role
			voiceHash sql.NullString
		)
		if err := rows.Scan(&rl.ID, &rl.Name, &voiceHash); err != nil {
			return relational.StorageError{Op: "scan role", Err: err}
		}

		rl.VoiceHash = voiceHash.String
		role = &rl
		return nil
	}, query, args...)
	if err != nil {
		return nil, err
	}

	return role, nil
}
