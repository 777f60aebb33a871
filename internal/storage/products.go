package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/kalambet/chatembed/internal/model"
)

// --- Products ---

func (s *Store) SaveProduct(ctx context.Context, p model.Product) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	tags, err := json.Marshal(normalizeTags(p.Tags))
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, bot_id, name, description, category, price, currency, image_url, url, tags, in_stock)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, description = excluded.description, category = excluded.category,
			price = excluded.price, currency = excluded.currency, image_url = excluded.image_url,
			url = excluded.url, tags = excluded.tags, in_stock = excluded.in_stock`,
		p.ID, p.BotID, p.Name, p.Description, p.Category, p.Price, p.Currency, p.ImageURL, p.URL, string(tags), p.InStock,
	)
	if err != nil {
		return fmt.Errorf("saving product %q: %w", p.Name, err)
	}
	return nil
}

// SearchProducts returns in-stock products of q.BotID matching the category,
// price range and keywords, ordered by name. A keyword matches when it is one
// of the product's tags or appears in its name.
func (s *Store) SearchProducts(ctx context.Context, q model.ProductQuery) ([]model.Product, error) {
	var where []string
	args := []any{q.BotID}
	where = append(where, "bot_id = ?", "in_stock = 1")

	if q.Category != "" {
		where = append(where, "lower(category) = lower(?)")
		args = append(args, q.Category)
	}
	if q.MinPrice != nil {
		where = append(where, "price >= ?")
		args = append(args, *q.MinPrice)
	}
	if q.MaxPrice != nil {
		where = append(where, "price <= ?")
		args = append(args, *q.MaxPrice)
	}
	if kws := normalizeTags(q.Keywords); len(kws) > 0 {
		var or []string
		for _, kw := range kws {
			or = append(or, "EXISTS (SELECT 1 FROM json_each(products.tags) WHERE value = ?)", "lower(name) LIKE ?")
			args = append(args, kw, "%"+kw+"%")
		}
		where = append(where, "("+strings.Join(or, " OR ")+")")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 6
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bot_id, name, description, category, price, currency, image_url, url, tags, in_stock
		FROM products WHERE `+strings.Join(where, " AND ")+`
		ORDER BY name ASC LIMIT ?`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("searching products: %w", err)
	}
	defer rows.Close()

	var results []model.Product
	for rows.Next() {
		var p model.Product
		var tags string
		if err := rows.Scan(&p.ID, &p.BotID, &p.Name, &p.Description, &p.Category, &p.Price, &p.Currency, &p.ImageURL, &p.URL, &tags, &p.InStock); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags of %s: %w", p.ID, err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// ImportProducts reads a catalog spreadsheet and saves every row as a product
// of botID. The first sheet is used and its first row is a header. Columns:
// name, category, price, description, tags (comma separated), in_stock,
// image_url, url, currency. Rows without a name are skipped.
func (s *Store) ImportProducts(ctx context.Context, botID string, r io.Reader) (int, error) {
	xlsx, err := excelize.OpenReader(r)
	if err != nil {
		return 0, fmt.Errorf("opening spreadsheet: %w", err)
	}
	defer xlsx.Close()

	sheets := xlsx.GetSheetList()
	if len(sheets) == 0 {
		return 0, fmt.Errorf("spreadsheet has no sheets")
	}
	rows, err := xlsx.GetRows(sheets[0])
	if err != nil {
		return 0, fmt.Errorf("reading sheet %s: %w", sheets[0], err)
	}

	imported := 0
	for i, row := range rows {
		if i == 0 {
			continue
		}
		p, ok, err := productFromRow(row)
		if err != nil {
			return imported, fmt.Errorf("row %d: %w", i+1, err)
		}
		if !ok {
			continue
		}
		p.BotID = botID
		if err := s.SaveProduct(ctx, p); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}

func productFromRow(row []string) (model.Product, bool, error) {
	col := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	p := model.Product{
		Name:        col(0),
		Category:    col(1),
		Description: col(3),
		InStock:     true,
		ImageURL:    col(6),
		URL:         col(7),
		Currency:    col(8),
	}
	if p.Name == "" {
		return p, false, nil
	}
	if v := col(2); v != "" {
		price, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
		if err != nil {
			return p, false, fmt.Errorf("invalid price %q", v)
		}
		p.Price = price
	}
	if v := col(4); v != "" {
		p.Tags = strings.Split(v, ",")
	}
	switch strings.ToLower(col(5)) {
	case "0", "no", "false", "n":
		p.InStock = false
	}
	return p, true, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}
