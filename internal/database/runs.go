package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InsertRun stores a run with its groups, members and distances in a single
// transaction. A run without an ID gets a fresh UUID, which is returned.
func (db *DB) InsertRun(rec *RunRecord) (string, error) {
	if rec.Run.ID == "" {
		rec.Run.ID = uuid.NewString()
	}
	r := rec.Run

	tx, err := db.conn.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO runs
		(id, label, entity_count, group_count, merge_count, noise_threshold, min_groups, report_markdown)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Label, r.EntityCount, r.GroupCount, r.MergeCount, r.NoiseThreshold, r.MinGroups, r.ReportMarkdown,
	); err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}

	for _, g := range rec.Groups {
		regions, err := json.Marshal(g.Regions)
		if err != nil {
			return "", err
		}
		if _, err := tx.Exec(
			`INSERT INTO run_groups (run_id, group_index, size, democrats, republicans, others, regions)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, g.Index, g.Size, g.Democrats, g.Republicans, g.Others, string(regions),
		); err != nil {
			return "", fmt.Errorf("inserting group %d: %w", g.Index, err)
		}
		for _, m := range g.Members {
			if _, err := tx.Exec(
				"INSERT INTO group_members (run_id, group_index, entity_index, name) VALUES (?, ?, ?, ?)",
				r.ID, g.Index, m.EntityIndex, m.Name,
			); err != nil {
				return "", fmt.Errorf("inserting member %d: %w", m.EntityIndex, err)
			}
		}
	}

	for _, d := range rec.Distances {
		a, b := d.GroupA, d.GroupB
		if a > b {
			a, b = b, a
		}
		if _, err := tx.Exec(
			"INSERT INTO group_distances (run_id, group_a, group_b, distance) VALUES (?, ?, ?, ?)",
			r.ID, a, b, d.Distance,
		); err != nil {
			return "", fmt.Errorf("inserting distance (%d,%d): %w", a, b, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	db.logger.Debug("stored run", zap.String("id", r.ID), zap.Int("groups", len(rec.Groups)))
	return r.ID, nil
}

const runColumns = `id, label, entity_count, group_count, merge_count, noise_threshold, min_groups,
	report_markdown, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	var report sql.NullString
	err := s.Scan(&r.ID, &r.Label, &r.EntityCount, &r.GroupCount, &r.MergeCount,
		&r.NoiseThreshold, &r.MinGroups, &report, &r.CreatedAt)
	r.ReportMarkdown = report.String
	return r, err
}

// GetRun returns a run by ID, or nil if it does not exist.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.conn.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	r, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// GetAllRuns returns all runs, newest first.
func (db *DB) GetAllRuns() ([]Run, error) {
	rows, err := db.conn.Query("SELECT " + runColumns + " FROM runs ORDER BY created_at DESC, rowid DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRunGroups returns the groups of a run ordered by index, with members.
func (db *DB) GetRunGroups(runID string) ([]RunGroup, error) {
	rows, err := db.conn.Query(
		`SELECT group_index, size, democrats, republicans, others, regions
		FROM run_groups WHERE run_id = ? ORDER BY group_index`, runID,
	)
	if err != nil {
		return nil, err
	}

	var groups []RunGroup
	for rows.Next() {
		var g RunGroup
		var regions sql.NullString
		if err := rows.Scan(&g.Index, &g.Size, &g.Democrats, &g.Republicans, &g.Others, &regions); err != nil {
			rows.Close()
			return nil, err
		}
		if regions.Valid && regions.String != "" {
			if err := json.Unmarshal([]byte(regions.String), &g.Regions); err != nil {
				rows.Close()
				return nil, fmt.Errorf("decoding regions of group %d: %w", g.Index, err)
			}
		}
		groups = append(groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	members, err := db.conn.Query(
		`SELECT group_index, entity_index, name FROM group_members
		WHERE run_id = ? ORDER BY group_index, entity_index`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer members.Close()

	byIndex := make(map[int]*RunGroup, len(groups))
	for i := range groups {
		byIndex[groups[i].Index] = &groups[i]
	}
	for members.Next() {
		var groupIndex int
		var m GroupMember
		var name sql.NullString
		if err := members.Scan(&groupIndex, &m.EntityIndex, &name); err != nil {
			return nil, err
		}
		m.Name = name.String
		if g, ok := byIndex[groupIndex]; ok {
			g.Members = append(g.Members, m)
		}
	}
	return groups, members.Err()
}

// GetGroupDistances returns the stored group distances of a run.
func (db *DB) GetGroupDistances(runID string) ([]GroupDistance, error) {
	rows, err := db.conn.Query(
		`SELECT group_a, group_b, distance FROM group_distances
		WHERE run_id = ? ORDER BY group_a, group_b`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupDistance
	for rows.Next() {
		var d GroupDistance
		if err := rows.Scan(&d.GroupA, &d.GroupB, &d.Distance); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and everything stored with it.
func (db *DB) DeleteRun(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"group_distances", "group_members", "run_groups"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE run_id = ?", id); err != nil {
			return err
		}
	}
	if _, err := tx.Exec("DELETE FROM runs WHERE id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM runs", &s.Runs},
		{"SELECT COUNT(*) FROM run_groups", &s.Groups},
		{"SELECT COUNT(*) FROM group_members", &s.Members},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	var latest sql.NullString
	if err := db.conn.QueryRow("SELECT MAX(created_at) FROM runs").Scan(&latest); err != nil {
		return nil, err
	}
	s.LatestRun = latest.String

	return s, nil
}
