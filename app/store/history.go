package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"example/veritas-api/app/models"
)

// UpsertAnalysis updates the record for (user, url) in place when one exists
// and inserts otherwise. Records without a URL always insert. The lookup and
// write are not serialized; concurrent inserts for the same URL can leave a
// duplicate row.
func (s *Store) UpsertAnalysis(ctx context.Context, rec models.AnalysisRecord) (int64, error) {
	tags, err := json.Marshal(nonNilTags(rec.Tags))
	if err != nil {
		return 0, fmt.Errorf("marshal tags: %w", err)
	}
	url := nullString(rec.URL)

	if url.Valid {
		var id int64
		err := s.db.QueryRowContext(ctx, `
			SELECT id FROM analysis_records
			WHERE user_id = $1 AND url = $2
			ORDER BY id
			LIMIT 1;
		`, rec.UserID, url).Scan(&id)
		switch {
		case err == nil:
			_, err = s.db.ExecContext(ctx, `
				UPDATE analysis_records
				SET title = $1, trust_score = $2, has_misinformation = $3, tags = $4, bias = $5, analyzed_at = $6
				WHERE id = $7;
			`, nullString(rec.Title), rec.TrustScore, rec.HasMisinformation, string(tags), rec.Bias, ts(rec.AnalyzedAt), id)
			if err != nil {
				return 0, err
			}
			return id, nil
		case !errors.Is(err, sql.ErrNoRows):
			return 0, err
		}
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO analysis_records (user_id, url, title, trust_score, has_misinformation, tags, bias, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id;
	`, rec.UserID, url, nullString(rec.Title), rec.TrustScore, rec.HasMisinformation, string(tags), rec.Bias, ts(rec.AnalyzedAt)).Scan(&id)
	return id, err
}

// ClearHistory deletes the user's records, scoped to an exact URL when one is
// given, and returns how many rows were removed.
func (s *Store) ClearHistory(ctx context.Context, userID int64, url *string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if url != nil {
		res, err = s.db.ExecContext(ctx, `DELETE FROM analysis_records WHERE user_id = $1 AND url = $2;`, userID, *url)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM analysis_records WHERE user_id = $1;`, userID)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListHistory returns records newest first.
func (s *Store) ListHistory(ctx context.Context, userID int64, limit, offset int) ([]models.AnalysisRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, url, title, trust_score, has_misinformation, tags, bias, analyzed_at
		FROM analysis_records
		WHERE user_id = $1
		ORDER BY analyzed_at DESC, id DESC
		LIMIT $2 OFFSET $3;
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.AnalysisRecord{}
	for rows.Next() {
		var (
			rec        models.AnalysisRecord
			url, title sql.NullString
			tags       string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &url, &title, &rec.TrustScore, &rec.HasMisinformation, &tags, &rec.Bias, &rec.AnalyzedAt); err != nil {
			return nil, err
		}
		rec.URL = stringPtr(url)
		rec.Title = stringPtr(title)
		rec.Tags = decodeTags(tags)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// HistoryStats aggregates totals and tag occurrence counts for a user.
func (s *Store) HistoryStats(ctx context.Context, userID int64) (models.HistoryStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trust_score, has_misinformation, tags
		FROM analysis_records
		WHERE user_id = $1;
	`, userID)
	if err != nil {
		return models.HistoryStats{}, err
	}
	defer rows.Close()

	stats := models.HistoryStats{Tags: []models.TagCount{}}
	counts := map[string]int{}
	scoreSum := 0
	for rows.Next() {
		var (
			score   int
			misinfo bool
			tags    string
		)
		if err := rows.Scan(&score, &misinfo, &tags); err != nil {
			return models.HistoryStats{}, err
		}
		stats.Total++
		scoreSum += score
		if misinfo {
			stats.WithMisinformation++
		}
		for _, tag := range decodeTags(tags) {
			counts[tag]++
		}
	}
	if err := rows.Err(); err != nil {
		return models.HistoryStats{}, err
	}
	if stats.Total > 0 {
		stats.AverageScore = float64(scoreSum) / float64(stats.Total)
	}
	for tag, n := range counts {
		stats.Tags = append(stats.Tags, models.TagCount{Tag: tag, Count: n})
	}
	sort.Slice(stats.Tags, func(i, j int) bool {
		if stats.Tags[i].Count != stats.Tags[j].Count {
			return stats.Tags[i].Count > stats.Tags[j].Count
		}
		return stats.Tags[i].Tag < stats.Tags[j].Tag
	})
	return stats, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func decodeTags(raw string) []string {
	tags := []string{}
	if raw == "" {
		return tags
	}
	_ = json.Unmarshal([]byte(raw), &tags)
	return tags
}
