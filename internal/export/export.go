// Package export writes a session's transcript and query results to object
// storage.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dbchat/dbchat/internal/chat"
	"github.com/dbchat/dbchat/internal/storage"
)

type Summary struct {
	SessionID  string               `json:"session_id"`
	ExportedAt time.Time            `json:"exported_at"`
	Objects    []storage.ObjectInfo `json:"objects"`
}

type transcriptDocument struct {
	SessionID  string         `json:"session_id"`
	CreatedAt  time.Time      `json:"created_at"`
	ExportedAt time.Time      `json:"exported_at"`
	Connection string         `json:"connection,omitempty"`
	Messages   []chat.Message `json:"messages"`
	Turns      []turnDocument `json:"turns"`
}

type turnDocument struct {
	Index        int           `json:"index"`
	Question     string        `json:"question"`
	SQL          string        `json:"sql,omitempty"`
	Answer       string        `json:"answer"`
	Failure      *chat.Failure `json:"failure,omitempty"`
	Columns      []string      `json:"columns,omitempty"`
	RowCount     int           `json:"row_count"`
	Truncated    bool          `json:"truncated,omitempty"`
	ResultObject string        `json:"result_object,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
}

type Exporter struct {
	Store storage.ObjectStore
	Clock func() time.Time
}

func NewExporter(store storage.ObjectStore) *Exporter {
	return &Exporter{Store: store, Clock: time.Now}
}

// Export uploads one parquet object per turn that produced rows, then the
// transcript document that references them.
func (e *Exporter) Export(ctx context.Context, session *chat.Session) (Summary, error) {
	if e.Store == nil {
		return Summary{}, fmt.Errorf("object store is required")
	}
	clock := e.Clock
	if clock == nil {
		clock = time.Now
	}

	summary := Summary{SessionID: session.ID, ExportedAt: clock().UTC(), Objects: make([]storage.ObjectInfo, 0)}
	doc := transcriptDocument{
		SessionID:  session.ID,
		CreatedAt:  session.CreatedAt,
		ExportedAt: summary.ExportedAt,
		Messages:   session.Transcript(),
		Turns:      make([]turnDocument, 0),
	}
	if conn := session.Connection(); conn != nil {
		doc.Connection = conn.Settings.Summary()
	}

	for _, turn := range session.Turns() {
		entry := turnDocument{
			Index:     turn.Index,
			Question:  turn.Question,
			SQL:       turn.SQL,
			Answer:    turn.Answer,
			Failure:   turn.Failure,
			StartedAt: turn.StartedAt,
		}
		if turn.Result != nil && len(turn.Result.Columns) > 0 {
			entry.Columns = turn.Result.Columns
			entry.RowCount = len(turn.Result.Rows)
			entry.Truncated = turn.Result.Truncated

			key, err := storage.BuildTurnResultPath(session.ID, turn.Index)
			if err != nil {
				return Summary{}, err
			}
			encoded, err := EncodeResultToParquet(turn.Index, *turn.Result)
			if err != nil {
				return Summary{}, fmt.Errorf("encode turn %d: %w", turn.Index, err)
			}
			info, err := e.Store.Put(ctx, key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{
				ContentType: "application/vnd.apache.parquet",
				Metadata:    objectMetadata(session.ID, turn.Index, encoded.CellCount),
			})
			if err != nil {
				return Summary{}, err
			}
			entry.ResultObject = key
			summary.Objects = append(summary.Objects, info)
		}
		doc.Turns = append(doc.Turns, entry)
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Summary{}, fmt.Errorf("marshal transcript: %w", err)
	}
	key, err := storage.BuildTranscriptPath(session.ID)
	if err != nil {
		return Summary{}, err
	}
	info, err := e.Store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), storage.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"session-id": session.ID, "turns": strconv.Itoa(len(doc.Turns))},
	})
	if err != nil {
		return Summary{}, err
	}
	summary.Objects = append(summary.Objects, info)
	return summary, nil
}

func objectMetadata(sessionID string, turn int, cells int64) map[string]string {
	return map[string]string{
		"session-id": sessionID,
		"turn":       strconv.Itoa(turn),
		"cells":      strconv.FormatInt(cells, 10),
	}
}
