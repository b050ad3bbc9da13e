package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/dbchat/dbchat/internal/query"
)

// resultCell is one value of a result set in long format, so results with
// any column layout share a single parquet schema.
type resultCell struct {
	Turn   int64   `parquet:"turn"`
	Row    int64   `parquet:"row"`
	Column string  `parquet:"column"`
	Value  *string `parquet:"value,optional"`
}

type ParquetEncodeResult struct {
	Data      []byte
	CellCount int64
}

func EncodeResultToParquet(turn int, result query.Result) (ParquetEncodeResult, error) {
	if len(result.Columns) == 0 {
		return ParquetEncodeResult{}, fmt.Errorf("result has no columns")
	}

	cells := make([]resultCell, 0, len(result.Rows)*len(result.Columns))
	for rowIndex, row := range result.Rows {
		for colIndex, column := range result.Columns {
			var value any
			if colIndex < len(row) {
				value = row[colIndex]
			}
			cells = append(cells, resultCell{
				Turn:   int64(turn),
				Row:    int64(rowIndex),
				Column: column,
				Value:  cellValue(value),
			})
		}
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[resultCell](buf)
	if len(cells) > 0 {
		if _, err := writer.Write(cells); err != nil {
			return ParquetEncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return ParquetEncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}
	return ParquetEncodeResult{Data: buf.Bytes(), CellCount: int64(len(cells))}, nil
}

func cellValue(value any) *string {
	var text string
	switch typed := value.(type) {
	case nil:
		return nil
	case string:
		text = typed
	case []byte:
		text = string(typed)
	case time.Time:
		text = typed.UTC().Format(time.RFC3339Nano)
	default:
		text = fmt.Sprint(typed)
	}
	return &text
}
