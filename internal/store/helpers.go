package store

import (
	"database/sql"
	"time"

	"github.com/BTreeMap/TutorPipe/internal/models"
)

// scanRecords reads chat_history rows selected as
// (id, user_id, feature, sender, content, created_at).
func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			r       Record
			feature string
			sender  string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &feature, &sender, &r.Content, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Feature = models.Feature(feature)
		r.Sender = decodeSender(sender)
		out = append(out, r)
	}
	return out, rows.Err()
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC()
}
