package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// SessionEntry is one object of a saved session file.
type SessionEntry struct {
	Num         int      `json:"#"`
	Date        string   `json:"date"`
	Author      string   `json:"auteur"`
	Code        string   `json:"code"`
	Flag        string   `json:"flag"`
	Description string   `json:"desc"`
	Status      string   `json:"statut"`
	Responsible []string `json:"respo"`
}

// EncodeSession serializes records in their current order, numbering them from 1.
func EncodeSession(records []*Record) ([]byte, error) {
	entries := make([]SessionEntry, len(records))
	for i, r := range records {
		respo := r.Responsible
		if respo == nil {
			respo = []string{}
		}
		entries[i] = SessionEntry{
			Num:         i + 1,
			Date:        r.Date,
			Author:      r.Author,
			Code:        r.Code,
			Flag:        r.Flag,
			Description: r.Description,
			Status:      r.Status,
			Responsible: respo,
		}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	return data, nil
}

// DecodeSession parses a saved session. Entries are ordered by "#"; equal numbers keep file order.
func DecodeSession(data []byte) ([]*Record, error) {
	var entries []SessionEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Num < entries[j].Num })
	records := make([]*Record, 0, len(entries))
	for i, e := range entries {
		if _, err := ParseDate(e.Date); err != nil {
			return nil, NewValidationError("session entry", "#%d (item %d): %v", e.Num, i+1, err)
		}
		r := &Record{
			Date:        e.Date,
			Author:      e.Author,
			Code:        e.Code,
			Flag:        e.Flag,
			Description: e.Description,
			Status:      e.Status,
			Responsible: e.Responsible,
		}
		r.Normalize()
		records = append(records, r)
	}
	return records, nil
}
