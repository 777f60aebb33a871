package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kalambet/chatembed/internal/model"
)

// --- Bots ---

// SaveBot inserts or replaces a bot together with its actions. Actions
// without an id get a generated one.
func (s *Store) SaveBot(ctx context.Context, b model.BotConfig) error {
	settings := ""
	if b.EcommerceSettings != nil {
		raw, err := json.Marshal(b.EcommerceSettings)
		if err != nil {
			return fmt.Errorf("encoding ecommerce settings: %w", err)
		}
		settings = string(raw)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning bot transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bots (id, name, system_instruction, knowledge_base, provider, model, temperature, branding_text, header_image_url, ecommerce_enabled, ecommerce_settings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			system_instruction = excluded.system_instruction,
			knowledge_base = excluded.knowledge_base,
			provider = excluded.provider,
			model = excluded.model,
			temperature = excluded.temperature,
			branding_text = excluded.branding_text,
			header_image_url = excluded.header_image_url,
			ecommerce_enabled = excluded.ecommerce_enabled,
			ecommerce_settings = excluded.ecommerce_settings`,
		b.ID, b.Name, b.SystemInstruction, b.KnowledgeBase, b.Provider, b.Model, b.Temperature,
		b.BrandingText, b.HeaderImageURL, b.EcommerceEnabled, settings,
	)
	if err != nil {
		return fmt.Errorf("saving bot %s: %w", b.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM bot_actions WHERE bot_id = ?`, b.ID); err != nil {
		return fmt.Errorf("clearing actions for bot %s: %w", b.ID, err)
	}
	for i, a := range b.Actions {
		id := a.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bot_actions (id, bot_id, position, type, label, payload, description, trigger_message, media_type, file_size)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, b.ID, i, string(a.Type), a.Label, a.Payload, a.Description, a.TriggerMessage, a.MediaType, a.FileSize,
		)
		if err != nil {
			return fmt.Errorf("saving action %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// GetBot returns a bot with its actions in configured order.
func (s *Store) GetBot(ctx context.Context, id string) (*model.BotConfig, error) {
	var b model.BotConfig
	var settings string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, system_instruction, knowledge_base, provider, model, temperature, branding_text, header_image_url, ecommerce_enabled, ecommerce_settings
		FROM bots WHERE id = ?`, id,
	).Scan(&b.ID, &b.Name, &b.SystemInstruction, &b.KnowledgeBase, &b.Provider, &b.Model, &b.Temperature,
		&b.BrandingText, &b.HeaderImageURL, &b.EcommerceEnabled, &settings)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if settings != "" {
		b.EcommerceSettings = &model.EcommerceSettings{}
		if err := json.Unmarshal([]byte(settings), b.EcommerceSettings); err != nil {
			return nil, fmt.Errorf("decoding ecommerce settings: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, label, payload, description, trigger_message, media_type, file_size
		FROM bot_actions WHERE bot_id = ? ORDER BY position ASC`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	b.Actions = []model.Action{}
	for rows.Next() {
		var a model.Action
		var typ string
		if err := rows.Scan(&a.ID, &typ, &a.Label, &a.Payload, &a.Description, &a.TriggerMessage, &a.MediaType, &a.FileSize); err != nil {
			return nil, err
		}
		a.Type = model.ActionType(typ)
		b.Actions = append(b.Actions, a)
	}
	return &b, rows.Err()
}

// --- Integrations ---

func (s *Store) SaveIntegration(ctx context.Context, in model.IntegrationConfig) error {
	departments, err := json.Marshal(in.DepartmentBots)
	if err != nil {
		return fmt.Errorf("encoding department bots: %w", err)
	}
	if in.DepartmentBots == nil {
		departments = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO integrations (id, bot_id, theme, position, brand_color, welcome_message, collect_leads, department_bots)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bot_id = excluded.bot_id,
			theme = excluded.theme,
			position = excluded.position,
			brand_color = excluded.brand_color,
			welcome_message = excluded.welcome_message,
			collect_leads = excluded.collect_leads,
			department_bots = excluded.department_bots`,
		in.ID, in.BotID, in.Theme, in.Position, in.BrandColor, in.WelcomeMessage, in.CollectLeads, string(departments),
	)
	if err != nil {
		return fmt.Errorf("saving integration %s: %w", in.ID, err)
	}
	return nil
}

func (s *Store) GetIntegration(ctx context.Context, id string) (*model.IntegrationConfig, error) {
	var in model.IntegrationConfig
	var departments string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, bot_id, theme, position, brand_color, welcome_message, collect_leads, department_bots
		FROM integrations WHERE id = ?`, id,
	).Scan(&in.ID, &in.BotID, &in.Theme, &in.Position, &in.BrandColor, &in.WelcomeMessage, &in.CollectLeads, &departments)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(departments), &in.DepartmentBots); err != nil {
		return nil, fmt.Errorf("decoding department bots: %w", err)
	}
	return &in, nil
}
